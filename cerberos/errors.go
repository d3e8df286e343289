package cerberos

import "errors"

// Error taxonomy surfaced by the engine. Callers match with errors.Is; every
// failure is terminal for the current request and carries no key material.
var (
	// Credential errors (AS).
	ErrUnknownPrincipal   = errors.New("cerberos: unknown principal")
	ErrInvalidCredentials = errors.New("cerberos: invalid credentials")
	ErrStepUpRequired     = errors.New("cerberos: step-up authentication required")

	// Ticket format and seal errors (codec, crypto core).
	ErrMalformedTicket = errors.New("cerberos: malformed ticket")
	ErrIntegrity       = errors.New("cerberos: integrity check failed")
	ErrDecrypt         = errors.New("cerberos: decryption failed")

	// Lifetime errors.
	ErrExpiredTicket         = errors.New("cerberos: ticket expired")
	ErrRenewalWindowExpired  = errors.New("cerberos: renewal window expired")
	ErrAuthenticatorMismatch = errors.New("cerberos: authenticator mismatch")
	ErrReplayDetected        = errors.New("cerberos: replay detected")

	// Authorization errors (TGS, SS).
	ErrUnknownService   = errors.New("cerberos: unknown service")
	ErrWrongAudience    = errors.New("cerberos: ticket audience mismatch")
	ErrPermissionDenied = errors.New("cerberos: permission denied")
)

// isIntegrityErr distinguishes tampering signals from plain format errors so
// they can be logged apart.
func isIntegrityErr(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
