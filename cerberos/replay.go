package cerberos

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const replayShards = 32

// gcInterval is how many inserts a shard accepts between lazy sweeps of its
// expired records.
const gcInterval = 128

type replayShard struct {
	mu   sync.Mutex
	seen map[string]time.Time // nonce -> retention deadline
	ops  int
}

// ReplayGuard rejects reuse of ticket and authenticator nonces. It is the
// only shared mutable state in the engine. Consume is an atomic
// first-writer-wins insert: under concurrent submission of the same nonce
// exactly one caller succeeds. Records are retained until their deadline and
// collected lazily.
type ReplayGuard struct {
	window time.Duration // optional retention cap; 0 means ticket lifetime
	shards [replayShards]replayShard
}

// NewReplayGuard creates an empty guard. Records are retained for the full
// remaining lifetime of the ticket or authenticator that carried the nonce.
func NewReplayGuard() *ReplayGuard {
	g := &ReplayGuard{}
	for i := range g.shards {
		g.shards[i].seen = make(map[string]time.Time)
	}
	return g
}

// NewReplayGuardWindow creates a guard whose record retention is capped at
// window, bounding memory on deployments with long-lived tickets. A nonce
// submitted again after the window has passed is accepted even if its ticket
// is still live.
func NewReplayGuardWindow(window time.Duration) *ReplayGuard {
	g := NewReplayGuard()
	g.window = window
	return g
}

// Consume records the nonce, retaining it until expiresAt (capped by the
// guard's retention window, when set). If the nonce was already recorded and
// its retention deadline has not passed, it returns ErrReplayDetected.
func (g *ReplayGuard) Consume(nonce string, expiresAt, now time.Time) error {
	s := g.shard(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := s.seen[nonce]; ok && now.Before(deadline) {
		return fmt.Errorf("%w: nonce %q", ErrReplayDetected, nonce)
	}
	retain := expiresAt
	if g.window > 0 {
		if capped := now.Add(g.window); capped.Before(retain) {
			retain = capped
		}
	}
	s.seen[nonce] = retain

	s.ops++
	if s.ops >= gcInterval {
		s.ops = 0
		for n, deadline := range s.seen {
			if !now.Before(deadline) {
				delete(s.seen, n)
			}
		}
	}
	return nil
}

// Seen reports whether nonce is currently recorded.
func (g *ReplayGuard) Seen(nonce string, now time.Time) bool {
	s := g.shard(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.seen[nonce]
	return ok && now.Before(deadline)
}

// Len returns the number of live records across all shards.
func (g *ReplayGuard) Len(now time.Time) int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for _, deadline := range s.seen {
			if now.Before(deadline) {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

func (g *ReplayGuard) shard(nonce string) *replayShard {
	h := fnv.New32a()
	h.Write([]byte(nonce))
	return &g.shards[h.Sum32()%replayShards]
}
