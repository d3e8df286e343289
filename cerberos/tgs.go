package cerberos

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cerbauth/cerberos/cerblog"
)

// DefaultAuthenticatorWindow is how far an authenticator timestamp may drift
// from the server clock before it is rejected as stale.
const DefaultAuthenticatorWindow = 5 * time.Minute

// Authenticator proves possession of a TGT's session key without resending
// the key: the holder MACs its identity, a timestamp, and a fresh nonce with
// the session key. Each authenticator is single-use; the TGS consumes its
// nonce through the replay guard.
type Authenticator struct {
	SubjectID string    `json:"subject_id"`
	Timestamp time.Time `json:"timestamp"`
	Nonce     string    `json:"nonce"`
	MAC       []byte    `json:"mac"`
}

// NewAuthenticator builds a fresh authenticator for subjectID using the TGT's
// session key. This is the client-side half of the possession proof.
func NewAuthenticator(subjectID string, sessionKey []byte, now time.Time) (*Authenticator, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	a := &Authenticator{
		SubjectID: subjectID,
		Timestamp: now.UTC(),
		Nonce:     nonce,
	}
	a.MAC = authenticatorMAC(sessionKey, a)
	return a, nil
}

// authenticatorMAC computes HMAC-SHA256 over the authenticator's fields.
func authenticatorMAC(sessionKey []byte, a *Authenticator) []byte {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(a.Timestamp.UnixNano()))

	h := hmac.New(sha256.New, sessionKey)
	h.Write([]byte(a.SubjectID))
	h.Write([]byte{0})
	h.Write(ts)
	h.Write([]byte{0})
	h.Write([]byte(a.Nonce))
	return h.Sum(nil)
}

// TGSConfig configures the ticket-granting stage.
type TGSConfig struct {
	// Realm is the realm whose TGTs this stage accepts.
	Realm string

	// Keys resolves the realm master secret and per-service secrets.
	Keys KeySource

	// Permissions resolves a subject's permission set for a service.
	Permissions PermissionStore

	// Replay guards authenticator nonces. Shared with other validators.
	Replay *ReplayGuard

	// TGTLifetime is the lifetime of renewed TGTs (default 8 hours).
	TGTLifetime time.Duration

	// STLifetime is the lifetime of issued service tickets, capped by the
	// presenting TGT's expiry (default 2 hours).
	STLifetime time.Duration

	// AuthenticatorWindow bounds authenticator timestamp drift (default 5m).
	AuthenticatorWindow time.Duration

	// ClockSkew is the tolerance applied to expiry checks (default 2 minutes).
	ClockSkew time.Duration

	// Suite selects the sealing cipher suite (default AES-256-GCM).
	Suite Suite

	// Logger for stage output. Nil discards.
	Logger *cerblog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TicketGrantingServer is the ticket-granting stage: it validates a TGT plus
// a possession proof and issues service tickets scoped to one service, or
// reissues the TGT within its renewal window.
type TicketGrantingServer struct {
	cfg      TGSConfig
	codec    *Codec
	sessions *SessionKeyManager
}

// STGrant is the result of a successful service-ticket request.
type STGrant struct {
	ServiceTicket []byte
	SessionKey    []byte
	SubjectID     string
	Service       string
	ExpiresAt     time.Time
	Permissions   []string
	Nonce         string
}

// NewTicketGrantingServer validates the config, applies defaults, and
// returns the stage.
func NewTicketGrantingServer(cfg TGSConfig) (*TicketGrantingServer, error) {
	if cfg.Realm == "" {
		return nil, fmt.Errorf("realm is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("permission store is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("replay guard is required")
	}
	if cfg.TGTLifetime == 0 {
		cfg.TGTLifetime = DefaultTGTLifetime
	}
	if cfg.STLifetime == 0 {
		cfg.STLifetime = DefaultSTLifetime
	}
	if cfg.AuthenticatorWindow == 0 {
		cfg.AuthenticatorWindow = DefaultAuthenticatorWindow
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.Suite == 0 {
		cfg.Suite = SuiteAES256GCM
	}
	if !cfg.Suite.valid() {
		return nil, fmt.Errorf("invalid suite %d", cfg.Suite)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TicketGrantingServer{
		cfg:      cfg,
		codec:    &Codec{Suite: cfg.Suite, ClockSkew: cfg.ClockSkew},
		sessions: NewSessionKeyManager(),
	}, nil
}

// Sessions exposes the session key bookkeeping.
func (s *TicketGrantingServer) Sessions() *SessionKeyManager {
	return s.sessions
}

// RequestServiceTicket validates the presented TGT and authenticator, then
// issues a service ticket for service carrying the subject's permissions.
// The ST expiry is now+STLifetime, capped by the TGT's own expiry.
func (s *TicketGrantingServer) RequestServiceTicket(ctx context.Context, tgtBlob []byte, auth *Authenticator, service string) (*STGrant, error) {
	now := s.cfg.Now().UTC()
	tgt, err := s.checkTGT(tgtBlob, auth, now, false)
	if err != nil {
		return nil, err
	}

	perms, err := s.cfg.Permissions.PermissionsFor(ctx, tgt.SubjectID, service)
	if err != nil {
		return nil, fmt.Errorf("lookup permissions: %w", err)
	}

	sessionKey, err := NewSessionKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.cfg.STLifetime)
	if expiresAt.After(tgt.ExpiresAt) {
		expiresAt = tgt.ExpiresAt
	}

	st := &Ticket{
		Version:     ticketVersion,
		Kind:        KindST,
		SubjectID:   tgt.SubjectID,
		Issuer:      s.cfg.Realm,
		Audience:    service,
		SessionKey:  sessionKey,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		Permissions: perms,
		Nonce:       nonce,
	}

	key, keyID, err := stSealingKey(s.cfg.Keys, service)
	if err != nil {
		return nil, fmt.Errorf("st sealing key: %w", err)
	}
	blob, err := s.codec.Encode(st, key, keyID)
	if err != nil {
		return nil, err
	}

	s.sessions.Bind(nonce, expiresAt)
	s.cfg.Logger.Printf(cerblog.AreaTGS, "issued ST for %q on %q, expires %s",
		tgt.SubjectID, service, expiresAt.Format(time.RFC3339))

	return &STGrant{
		ServiceTicket: blob,
		SessionKey:    sessionKey,
		SubjectID:     tgt.SubjectID,
		Service:       service,
		ExpiresAt:     expiresAt,
		Permissions:   perms,
		Nonce:         nonce,
	}, nil
}

// Renew runs the same validation pipeline as RequestServiceTicket and
// reissues the TGT with an extended expiry. Renewal is governed by the
// renewal window: a TGT that has expired but is still within renewable_until
// can be renewed, and once now is past renewable_until the refusal is
// ErrRenewalWindowExpired. The reissued TGT keeps the subject and renewal
// deadline, with a fresh nonce and session key.
func (s *TicketGrantingServer) Renew(ctx context.Context, tgtBlob []byte, auth *Authenticator) (*TGTGrant, error) {
	now := s.cfg.Now().UTC()
	tgt, err := s.checkTGT(tgtBlob, auth, now, true)
	if err != nil {
		return nil, err
	}

	sessionKey, err := NewSessionKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.cfg.TGTLifetime)
	if expiresAt.After(tgt.RenewableUntil) {
		expiresAt = tgt.RenewableUntil
	}
	// Inside the skew grace the decode still accepts the TGT, but there is no
	// renewed lifetime left to grant.
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: renewable until %s", ErrRenewalWindowExpired,
			tgt.RenewableUntil.Format(time.RFC3339))
	}

	renewed := &Ticket{
		Version:        ticketVersion,
		Kind:           KindTGT,
		SubjectID:      tgt.SubjectID,
		Issuer:         s.cfg.Realm,
		Audience:       s.cfg.Realm,
		SessionKey:     sessionKey,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		RenewableUntil: tgt.RenewableUntil,
		Nonce:          nonce,
	}

	key, keyID, err := tgtSealingKey(s.cfg.Keys, s.cfg.Realm)
	if err != nil {
		return nil, fmt.Errorf("tgt sealing key: %w", err)
	}
	blob, err := s.codec.Encode(renewed, key, keyID)
	if err != nil {
		return nil, err
	}

	s.sessions.Bind(nonce, expiresAt)
	s.cfg.Logger.Printf(cerblog.AreaTGS, "renewed TGT for %q, expires %s",
		tgt.SubjectID, expiresAt.Format(time.RFC3339))

	return &TGTGrant{
		TGT:            blob,
		SessionKey:     sessionKey,
		SubjectID:      tgt.SubjectID,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		RenewableUntil: tgt.RenewableUntil,
		Nonce:          nonce,
	}, nil
}

// checkTGT decodes the TGT, verifies the possession proof, and consumes the
// authenticator nonce. The replay record is retained for the TGT's remaining
// lifetime (the renewal window, when checking for renewal).
func (s *TicketGrantingServer) checkTGT(tgtBlob []byte, auth *Authenticator, now time.Time, forRenewal bool) (*Ticket, error) {
	if auth == nil {
		return nil, fmt.Errorf("%w: missing authenticator", ErrAuthenticatorMismatch)
	}

	key, _, err := tgtSealingKey(s.cfg.Keys, s.cfg.Realm)
	if err != nil {
		return nil, fmt.Errorf("tgt sealing key: %w", err)
	}
	var tgt *Ticket
	if forRenewal {
		tgt, err = s.codec.DecodeForRenewal(tgtBlob, key, now)
	} else {
		tgt, err = s.codec.Decode(tgtBlob, key, now)
	}
	if err != nil {
		return nil, fmt.Errorf("tgt: %w", err)
	}
	if tgt.Kind != KindTGT {
		return nil, fmt.Errorf("%w: not a TGT", ErrMalformedTicket)
	}

	if auth.SubjectID != tgt.SubjectID {
		s.cfg.Logger.Printf(cerblog.AreaTGS, "authenticator subject %q does not match TGT subject %q",
			auth.SubjectID, tgt.SubjectID)
		return nil, fmt.Errorf("%w: subject", ErrAuthenticatorMismatch)
	}
	expected := authenticatorMAC(tgt.SessionKey, auth)
	if !hmac.Equal(expected, auth.MAC) {
		s.cfg.Logger.Printf(cerblog.AreaTGS, "authenticator MAC mismatch for %q", tgt.SubjectID)
		return nil, fmt.Errorf("%w: mac", ErrAuthenticatorMismatch)
	}

	drift := now.Sub(auth.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.AuthenticatorWindow {
		return nil, fmt.Errorf("%w: authenticator timestamp out of range", ErrAuthenticatorMismatch)
	}

	retention := tgt.ExpiresAt
	if forRenewal && tgt.RenewableUntil.After(retention) {
		retention = tgt.RenewableUntil
	}
	if err := s.cfg.Replay.Consume(auth.Nonce, retention, now); err != nil {
		s.cfg.Logger.Printf(cerblog.AreaReplay, "authenticator replay for %q", tgt.SubjectID)
		return nil, err
	}
	return tgt, nil
}
