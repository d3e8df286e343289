package cerberos

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
)

// TicketKind distinguishes the two ticket variants.
type TicketKind uint8

const (
	// KindTGT is a ticket-granting ticket: long-lived, renewable, scoped to
	// the realm.
	KindTGT TicketKind = 1
	// KindST is a service ticket: short-lived, scoped to one service, carries
	// the subject's permissions for that service.
	KindST TicketKind = 2
)

// ticketVersion is the payload format version sealed inside every ticket.
const ticketVersion = 1

// Ticket is the plaintext form of a ticket. It only exists transiently during
// issuance and validation; everywhere else tickets travel as sealed blobs.
type Ticket struct {
	Version        uint8      `json:"version"`
	Kind           TicketKind `json:"kind"`
	SubjectID      string     `json:"subject_id"`
	Issuer         string     `json:"issuer"`
	Audience       string     `json:"audience"` // realm for a TGT, service name for an ST
	SessionKey     []byte     `json:"session_key"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RenewableUntil time.Time  `json:"renewable_until,omitempty"` // TGT only
	Permissions    []string   `json:"permissions,omitempty"`     // ST only
	Nonce          string     `json:"nonce"`
}

// NewNonce returns a unique per-issuance ticket nonce.
func NewNonce() (string, error) {
	n, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

// HasPermission reports whether action is within the ticket's permission set.
func (t *Ticket) HasPermission(action string) bool {
	for _, p := range t.Permissions {
		if p == action {
			return true
		}
	}
	return false
}

// Renewable reports whether the ticket carries a renewal window.
func (t *Ticket) Renewable() bool {
	return t.Kind == KindTGT && !t.RenewableUntil.IsZero()
}

// validate checks the structural invariants shared by both ticket kinds.
func (t *Ticket) validate() error {
	if t.Version != ticketVersion {
		return fmt.Errorf("%w: unsupported payload version %d", ErrMalformedTicket, t.Version)
	}
	if t.Kind != KindTGT && t.Kind != KindST {
		return fmt.Errorf("%w: unknown ticket kind %d", ErrMalformedTicket, t.Kind)
	}
	if t.SubjectID == "" {
		return fmt.Errorf("%w: empty subject", ErrMalformedTicket)
	}
	if t.Audience == "" {
		return fmt.Errorf("%w: empty audience", ErrMalformedTicket)
	}
	if t.Nonce == "" {
		return fmt.Errorf("%w: empty nonce", ErrMalformedTicket)
	}
	if len(t.SessionKey) != KeySize {
		return fmt.Errorf("%w: session key length %d", ErrMalformedTicket, len(t.SessionKey))
	}
	if !t.IssuedAt.Before(t.ExpiresAt) {
		return fmt.Errorf("%w: issued_at not before expires_at", ErrMalformedTicket)
	}
	if t.Renewable() && t.ExpiresAt.After(t.RenewableUntil) {
		return fmt.Errorf("%w: expires_at after renewable_until", ErrMalformedTicket)
	}
	return nil
}
