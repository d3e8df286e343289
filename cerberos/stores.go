package cerberos

import "context"

// The engine owns no account database, authorization data, or key storage.
// These interfaces are implemented by the surrounding service layer; every
// call receives the request context so callers can bound collaborator I/O.

// Credential is a principal's stored long-term credential material.
type Credential struct {
	Hash  []byte
	Salt  []byte
	Roles []string
}

// CredentialStore resolves a principal's stored credential. Implementations
// return ErrUnknownPrincipal (possibly wrapped) when no such principal exists.
type CredentialStore interface {
	LookupCredential(ctx context.Context, principalID string) (*Credential, error)
}

// PermissionStore resolves the permission set a subject holds for a service.
// An empty set is a valid answer; it yields a ticket that authorizes nothing.
type PermissionStore interface {
	PermissionsFor(ctx context.Context, subjectID, service string) ([]string, error)
}

// RiskScorer is an optional collaborator returning a threat score in [0,1]
// for an authentication attempt. Scorer failure is never an authentication
// failure: the AS treats an error as "no additional risk signal".
type RiskScorer interface {
	Score(ctx context.Context, principalID string) (float64, error)
}

// RiskScorerFunc adapts a function to the RiskScorer interface.
type RiskScorerFunc func(ctx context.Context, principalID string) (float64, error)

func (f RiskScorerFunc) Score(ctx context.Context, principalID string) (float64, error) {
	return f(ctx, principalID)
}

// KeySource resolves long-term key material. It is passed explicitly to each
// stage at construction so multiple realms can run in one process without
// ambient global state. Implementations return ErrUnknownService (possibly
// wrapped) for services they do not know.
type KeySource interface {
	// MasterSecret returns the realm's master secret, from which the
	// TGT-sealing key is derived.
	MasterSecret(realm string) ([]byte, error)

	// ServiceSecret returns the secret shared with a service, from which
	// that service's ST-sealing key is derived.
	ServiceSecret(service string) ([]byte, error)
}

// tgtSealingKey derives the realm's TGT-sealing key.
func tgtSealingKey(keys KeySource, realm string) ([]byte, string, error) {
	master, err := keys.MasterSecret(realm)
	if err != nil {
		return nil, "", err
	}
	key, err := DeriveKey(master, "tgt-seal|"+realm)
	if err != nil {
		return nil, "", err
	}
	return key, "tgt:" + realm, nil
}

// stSealingKey derives the per-service ST-sealing key. Service-specific keys
// keep a compromised service from forging tickets for another.
func stSealingKey(keys KeySource, service string) ([]byte, string, error) {
	secret, err := keys.ServiceSecret(service)
	if err != nil {
		return nil, "", err
	}
	key, err := DeriveKey(secret, "st-seal|"+service)
	if err != nil {
		return nil, "", err
	}
	return key, "st:" + service, nil
}
