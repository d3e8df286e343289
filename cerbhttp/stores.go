package cerbhttp

import (
	"context"
	"fmt"

	"github.com/cerbauth/cerberos/cerberos"
)

// Static in-memory collaborator bindings. These back the facade in demos and
// tests; production deployments supply their own store implementations to
// the engine directly.

// StaticCredentialStore holds provisioned credentials in memory.
type StaticCredentialStore struct {
	creds map[string]*cerberos.Credential
}

// NewStaticCredentialStore provisions the given principal passwords,
// hashing each with a fresh salt.
func NewStaticCredentialStore(passwords map[string]string) (*StaticCredentialStore, error) {
	s := &StaticCredentialStore{creds: make(map[string]*cerberos.Credential, len(passwords))}
	for id, pw := range passwords {
		salt, err := cerberos.NewCredentialSalt()
		if err != nil {
			return nil, fmt.Errorf("provision %q: %w", id, err)
		}
		s.creds[id] = &cerberos.Credential{
			Hash: cerberos.HashCredential([]byte(pw), salt),
			Salt: salt,
		}
	}
	return s, nil
}

// SetRoles attaches roles to an already-provisioned principal.
func (s *StaticCredentialStore) SetRoles(principalID string, roles ...string) {
	if c, ok := s.creds[principalID]; ok {
		c.Roles = roles
	}
}

func (s *StaticCredentialStore) LookupCredential(ctx context.Context, principalID string) (*cerberos.Credential, error) {
	if c, ok := s.creds[principalID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", cerberos.ErrUnknownPrincipal, principalID)
}

// StaticPermissionStore maps subject -> service -> permission set.
type StaticPermissionStore struct {
	grants map[string]map[string][]string
}

func NewStaticPermissionStore(grants map[string]map[string][]string) *StaticPermissionStore {
	return &StaticPermissionStore{grants: grants}
}

func (s *StaticPermissionStore) PermissionsFor(ctx context.Context, subjectID, service string) ([]string, error) {
	return s.grants[subjectID][service], nil
}

// StaticKeySource holds one realm master secret and per-service secrets.
type StaticKeySource struct {
	Realm       string
	Master      []byte
	ServiceKeys map[string][]byte
}

func (s *StaticKeySource) MasterSecret(realm string) ([]byte, error) {
	if realm != s.Realm {
		return nil, fmt.Errorf("unknown realm %q", realm)
	}
	return s.Master, nil
}

func (s *StaticKeySource) ServiceSecret(service string) ([]byte, error) {
	if sec, ok := s.ServiceKeys[service]; ok {
		return sec, nil
	}
	return nil, fmt.Errorf("%w: %q", cerberos.ErrUnknownService, service)
}
