package cerberos

import (
	"context"
	"fmt"
	"time"

	"github.com/cerbauth/cerberos/cerblog"
)

// ServiceConfig configures a service validation stage.
type ServiceConfig struct {
	// Service is the name this validator accepts tickets for. Tickets sealed
	// for any other audience are rejected.
	Service string

	// Keys resolves the secret shared between this service and the TGS.
	Keys KeySource

	// Replay guards service ticket nonces, scoped to this service's guard
	// instance.
	Replay *ReplayGuard

	// SingleUse consumes the ticket nonce on every validation. When false,
	// only mutating actions consume it; read-only validations may reuse the
	// ticket within its lifetime.
	SingleUse bool

	// ClockSkew is the tolerance applied to expiry checks (default 2 minutes).
	ClockSkew time.Duration

	// Suite selects the sealing cipher suite (default AES-256-GCM).
	Suite Suite

	// Logger for stage output. Nil discards.
	Logger *cerblog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// ServiceValidator is the service-side stage: it validates a presented
// service ticket and authorizes a requested action. The resource operation
// itself belongs to the caller.
type ServiceValidator struct {
	cfg   ServiceConfig
	codec *Codec
}

// AuthorizationDecision is a granted validation result.
type AuthorizationDecision struct {
	SubjectID   string
	Permissions []string
	ExpiresAt   time.Time
}

// NewServiceValidator validates the config, applies defaults, and returns
// the stage.
func NewServiceValidator(cfg ServiceConfig) (*ServiceValidator, error) {
	if cfg.Service == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("replay guard is required")
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
	return &ServiceValidator{
		cfg:   cfg,
		codec: &Codec{Suite: cfg.Suite, ClockSkew: cfg.ClockSkew},
	}, nil
}

// Validate decodes the service ticket and authorizes action. mutating marks
// the request as state-changing; mutating validations always consume the
// ticket nonce, read-only ones only when the validator is single-use.
//
// The ctx parameter bounds collaborator I/O; the current implementation
// resolves keys synchronously but keeps the signature uniform across stages.
func (v *ServiceValidator) Validate(ctx context.Context, stBlob []byte, action string, mutating bool) (*AuthorizationDecision, error) {
	now := v.cfg.Now().UTC()

	key, _, err := stSealingKey(v.cfg.Keys, v.cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("st sealing key: %w", err)
	}
	st, err := v.codec.Decode(stBlob, key, now)
	if err != nil {
		// Integrity failures are potential tampering; keep them apart from
		// plain format errors in the log.
		if isIntegrityErr(err) {
			v.cfg.Logger.Errorf(cerblog.AreaService, "ticket integrity failure on %q: %v", v.cfg.Service, err)
		} else {
			v.cfg.Logger.Printf(cerblog.AreaService, "ticket rejected on %q: %v", v.cfg.Service, err)
		}
		return nil, fmt.Errorf("service ticket: %w", err)
	}
	if st.Kind != KindST {
		return nil, fmt.Errorf("%w: not a service ticket", ErrMalformedTicket)
	}
	if st.Audience != v.cfg.Service {
		v.cfg.Logger.Printf(cerblog.AreaService, "ticket for %q presented to %q", st.Audience, v.cfg.Service)
		return nil, fmt.Errorf("%w: ticket for %q", ErrWrongAudience, st.Audience)
	}

	if v.cfg.SingleUse || mutating {
		if err := v.cfg.Replay.Consume(st.Nonce, st.ExpiresAt, now); err != nil {
			v.cfg.Logger.Printf(cerblog.AreaReplay, "service ticket replay for %q on %q",
				st.SubjectID, v.cfg.Service)
			return nil, err
		}
	}

	if !st.HasPermission(action) {
		v.cfg.Logger.Printf(cerblog.AreaService, "action %q denied for %q on %q",
			action, st.SubjectID, v.cfg.Service)
		return nil, fmt.Errorf("%w: action %q", ErrPermissionDenied, action)
	}

	v.cfg.Logger.Debugf(cerblog.AreaService, "action %q granted for %q on %q",
		action, st.SubjectID, v.cfg.Service)
	return &AuthorizationDecision{
		SubjectID:   st.SubjectID,
		Permissions: st.Permissions,
		ExpiresAt:   st.ExpiresAt,
	}, nil
}
