package cerberos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cerbauth/cerberos/cerblog"
)

// Default lifetimes and thresholds, applied by NewAuthServer when the config
// leaves them zero.
const (
	DefaultTGTLifetime          = 8 * time.Hour
	DefaultMaxRenewableLifetime = 24 * time.Hour
	DefaultSTLifetime           = 2 * time.Hour
	DefaultClockSkew            = 2 * time.Minute
	DefaultRiskThreshold        = 0.8
)

// ASConfig configures the authentication stage.
type ASConfig struct {
	// Realm is the realm this AS issues TGTs for.
	Realm string

	// Credentials resolves principals' stored credential hashes.
	Credentials CredentialStore

	// Keys resolves the realm master secret.
	Keys KeySource

	// Risk is an optional threat scorer consulted after a successful
	// credential check. Nil means no extra check.
	Risk RiskScorer

	// RiskThreshold blocks issuance with ErrStepUpRequired when the score
	// reaches it (default 0.8).
	RiskThreshold float64

	// TGTLifetime is how long issued TGTs are valid (default 8 hours).
	TGTLifetime time.Duration

	// MaxRenewableLifetime bounds how far a TGT can be renewed past its
	// original issuance (default 24 hours).
	MaxRenewableLifetime time.Duration

	// ClockSkew is the tolerance applied to expiry checks (default 2 minutes).
	ClockSkew time.Duration

	// Suite selects the sealing cipher suite (default AES-256-GCM).
	Suite Suite

	// Logger for stage output. Nil discards.
	Logger *cerblog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// AuthServer is the authentication stage: it verifies a principal's long-term
// credential and issues a sealed TGT.
type AuthServer struct {
	cfg      ASConfig
	codec    *Codec
	sessions *SessionKeyManager
}

// TGTGrant is the result of a successful authentication. SessionKey is
// delivered to the principal exactly once, alongside (not inside) the sealed
// blob; it is the principal's proof of possession for later exchanges.
type TGTGrant struct {
	TGT            []byte
	SessionKey     []byte
	SubjectID      string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	RenewableUntil time.Time
	Nonce          string
}

// NewAuthServer validates the config, applies defaults, and returns the stage.
func NewAuthServer(cfg ASConfig) (*AuthServer, error) {
	if cfg.Realm == "" {
		return nil, fmt.Errorf("realm is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if cfg.RiskThreshold == 0 {
		cfg.RiskThreshold = DefaultRiskThreshold
	}
	if cfg.TGTLifetime == 0 {
		cfg.TGTLifetime = DefaultTGTLifetime
	}
	if cfg.MaxRenewableLifetime == 0 {
		cfg.MaxRenewableLifetime = DefaultMaxRenewableLifetime
	}
	if cfg.MaxRenewableLifetime < cfg.TGTLifetime {
		return nil, fmt.Errorf("max renewable lifetime %s below TGT lifetime %s",
			cfg.MaxRenewableLifetime, cfg.TGTLifetime)
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
	return &AuthServer{
		cfg:      cfg,
		codec:    &Codec{Suite: cfg.Suite, ClockSkew: cfg.ClockSkew},
		sessions: NewSessionKeyManager(),
	}, nil
}

// Sessions exposes the session key bookkeeping.
func (s *AuthServer) Sessions() *SessionKeyManager {
	return s.sessions
}

// Authenticate verifies the principal's credential and, on success, issues a
// sealed TGT with a fresh session key. Credential mismatch yields
// ErrInvalidCredentials; an elevated risk score yields ErrStepUpRequired.
// Failed attempts are logged for external rate limiting; the stage itself
// never throttles.
func (s *AuthServer) Authenticate(ctx context.Context, principalID string, credential []byte) (*TGTGrant, error) {
	cred, err := s.cfg.Credentials.LookupCredential(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrUnknownPrincipal) {
			s.cfg.Logger.Printf(cerblog.AreaAS, "authentication failed for %q: unknown principal", principalID)
			return nil, err
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}

	if !VerifyCredential(credential, cred.Salt, cred.Hash) {
		s.cfg.Logger.Printf(cerblog.AreaAS, "authentication failed for %q: credential mismatch", principalID)
		return nil, fmt.Errorf("%w: principal %q", ErrInvalidCredentials, principalID)
	}

	if s.cfg.Risk != nil {
		score, err := s.cfg.Risk.Score(ctx, principalID)
		switch {
		case err != nil:
			// Scorer availability must never gate authentication.
			s.cfg.Logger.Debugf(cerblog.AreaAS, "risk scorer unavailable for %q: %v", principalID, err)
		case score >= s.cfg.RiskThreshold:
			s.cfg.Logger.Printf(cerblog.AreaAS, "step-up required for %q: score %.2f >= %.2f",
				principalID, score, s.cfg.RiskThreshold)
			return nil, fmt.Errorf("%w: risk score %.2f", ErrStepUpRequired, score)
		}
	}

	sessionKey, err := NewSessionKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now().UTC()
	t := &Ticket{
		Version:        ticketVersion,
		Kind:           KindTGT,
		SubjectID:      principalID,
		Issuer:         s.cfg.Realm,
		Audience:       s.cfg.Realm,
		SessionKey:     sessionKey,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.cfg.TGTLifetime),
		RenewableUntil: now.Add(s.cfg.MaxRenewableLifetime),
		Nonce:          nonce,
	}

	key, keyID, err := tgtSealingKey(s.cfg.Keys, s.cfg.Realm)
	if err != nil {
		return nil, fmt.Errorf("tgt sealing key: %w", err)
	}
	blob, err := s.codec.Encode(t, key, keyID)
	if err != nil {
		return nil, err
	}

	s.sessions.Bind(nonce, t.ExpiresAt)
	s.cfg.Logger.Printf(cerblog.AreaAS, "issued TGT for %q, expires %s",
		principalID, t.ExpiresAt.Format(time.RFC3339))

	return &TGTGrant{
		TGT:            blob,
		SessionKey:     sessionKey,
		SubjectID:      principalID,
		IssuedAt:       t.IssuedAt,
		ExpiresAt:      t.ExpiresAt,
		RenewableUntil: t.RenewableUntil,
		Nonce:          nonce,
	}, nil
}
