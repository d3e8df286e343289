package cerberos

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelopeVersion is the wire envelope version. Bumped independently of the
// ticket payload version.
const envelopeVersion = 1

// EncryptedTicket is the wire form of a ticket: an opaque sealed blob plus
// just enough metadata for the holder of the matching key to open it. The
// authentication tag is carried inside Ciphertext (suite-defined layout).
type EncryptedTicket struct {
	Version    uint8  `json:"version"`
	KeyID      string `json:"key_id"`
	Suite      Suite  `json:"suite"`
	Ciphertext []byte `json:"ciphertext"`
}

// Marshal renders the encrypted ticket as a transport-agnostic byte blob.
func (e *EncryptedTicket) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEncryptedTicket parses a blob produced by Marshal.
func UnmarshalEncryptedTicket(blob []byte) (*EncryptedTicket, error) {
	var e EncryptedTicket
	if err := json.Unmarshal(blob, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTicket, err)
	}
	return &e, nil
}

// Codec seals tickets into their wire form and opens them back. Expiry is
// enforced here, with the configured clock skew, so every consumer gets the
// same check regardless of call site.
type Codec struct {
	Suite     Suite
	ClockSkew time.Duration
}

// Encode seals the ticket under key. keyID names the sealing key so a
// validator can tell which key to use without trial decryption; it is bound
// into the seal as associated data along with the envelope version.
func (c *Codec) Encode(t *Ticket, key []byte, keyID string) ([]byte, error) {
	if !c.Suite.valid() {
		return nil, fmt.Errorf("codec: invalid suite %d", c.Suite)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket payload: %w", err)
	}
	sealed, err := Seal(c.Suite, key, payload, c.aad(keyID))
	if err != nil {
		return nil, fmt.Errorf("seal ticket: %w", err)
	}
	e := &EncryptedTicket{
		Version:    envelopeVersion,
		KeyID:      keyID,
		Suite:      c.Suite,
		Ciphertext: sealed,
	}
	return e.Marshal()
}

// Decode opens a sealed blob and returns the ticket. Failure modes, in order:
// ErrMalformedTicket for structural corruption of the envelope or payload,
// ErrIntegrity/ErrDecrypt from the crypto core, ErrExpiredTicket once now is
// past expires_at plus the skew tolerance.
func (c *Codec) Decode(blob, key []byte, now time.Time) (*Ticket, error) {
	e, err := UnmarshalEncryptedTicket(blob)
	if err != nil {
		return nil, err
	}
	if e.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrMalformedTicket, e.Version)
	}
	if e.Suite != c.Suite {
		return nil, fmt.Errorf("%w: envelope suite %d, codec expects %d", ErrMalformedTicket, e.Suite, c.Suite)
	}
	payload, err := Open(e.Suite, key, e.Ciphertext, c.aad(e.KeyID))
	if err != nil {
		return nil, err
	}
	var t Ticket
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedTicket, err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	if c.Expired(t.ExpiresAt, now) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpiredTicket, t.ExpiresAt.Format(time.RFC3339))
	}
	return &t, nil
}

// DecodeForRenewal opens a sealed TGT for renewal. Renewal is governed by
// the renewal window rather than the ticket's own expiry: an expired TGT is
// still acceptable until renewable_until, and past that deadline the failure
// is ErrRenewalWindowExpired whatever the expiry state.
func (c *Codec) DecodeForRenewal(blob, key []byte, now time.Time) (*Ticket, error) {
	e, err := UnmarshalEncryptedTicket(blob)
	if err != nil {
		return nil, err
	}
	if e.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrMalformedTicket, e.Version)
	}
	if e.Suite != c.Suite {
		return nil, fmt.Errorf("%w: envelope suite %d, codec expects %d", ErrMalformedTicket, e.Suite, c.Suite)
	}
	payload, err := Open(e.Suite, key, e.Ciphertext, c.aad(e.KeyID))
	if err != nil {
		return nil, err
	}
	var t Ticket
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedTicket, err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	if !t.Renewable() {
		return nil, fmt.Errorf("%w: ticket is not renewable", ErrRenewalWindowExpired)
	}
	if c.Expired(t.RenewableUntil, now) {
		return nil, fmt.Errorf("%w: renewable until %s", ErrRenewalWindowExpired,
			t.RenewableUntil.Format(time.RFC3339))
	}
	return &t, nil
}

// Expired reports whether a deadline has passed, allowing for clock skew.
// Used uniformly for ticket expiry and renewal-window checks.
func (c *Codec) Expired(deadline, now time.Time) bool {
	return now.After(deadline.Add(c.ClockSkew))
}

func (c *Codec) aad(keyID string) []byte {
	return []byte(fmt.Sprintf("cerberos/v%d/%s", envelopeVersion, keyID))
}
