package cerberos

import (
	"sync"
	"time"
)

// NewSessionKey generates a random 256-bit session key. A session key is
// bound to exactly one ticket: it lives sealed inside the ticket blob and is
// handed to the principal once, out of band of the blob.
func NewSessionKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// SessionKeyManager tracks which ticket nonces have live session keys. The
// engine holds no secret state here: keys live inside sealed tickets, not in
// a central store, which keeps issuance stateless. The bindings exist for
// bookkeeping and test observability only.
type SessionKeyManager struct {
	mu       sync.Mutex
	bindings map[string]time.Time // nonce -> expiry
}

// NewSessionKeyManager creates an empty manager.
func NewSessionKeyManager() *SessionKeyManager {
	return &SessionKeyManager{bindings: make(map[string]time.Time)}
}

// Bind records that a session key was issued for the given ticket nonce.
func (m *SessionKeyManager) Bind(nonce string, expiresAt time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[nonce] = expiresAt
}

// Bound reports whether a live binding exists for nonce at time now.
func (m *SessionKeyManager) Bound(nonce string, now time.Time) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.bindings[nonce]
	return ok && now.Before(exp)
}

// Purge drops bindings whose tickets have expired.
func (m *SessionKeyManager) Purge(now time.Time) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for nonce, exp := range m.bindings {
		if !now.Before(exp) {
			delete(m.bindings, nonce)
			n++
		}
	}
	return n
}
