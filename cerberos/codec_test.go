package cerberos

import (
	"errors"
	"testing"
	"time"
)

func testTicket(now time.Time) *Ticket {
	key, _ := RandomBytes(KeySize)
	return &Ticket{
		Version:        ticketVersion,
		Kind:           KindTGT,
		SubjectID:      "alice",
		Issuer:         "EXAMPLE.COM",
		Audience:       "EXAMPLE.COM",
		SessionKey:     key,
		IssuedAt:       now,
		ExpiresAt:      now.Add(8 * time.Hour),
		RenewableUntil: now.Add(24 * time.Hour),
		Nonce:          "nonce-1",
	}
}

func TestCodecRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	c := &Codec{Suite: SuiteAES256GCM, ClockSkew: 2 * time.Minute}

	blob, err := c.Encode(testTicket(now), key, "tgt:EXAMPLE.COM")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(blob, key, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SubjectID != "alice" || got.Audience != "EXAMPLE.COM" || got.Nonce != "nonce-1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCodecExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	skew := 2 * time.Minute
	c := &Codec{Suite: SuiteAES256GCM, ClockSkew: skew}

	tk := testTicket(now)
	blob, err := c.Encode(tk, key, "k")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// At expiry plus the full skew tolerance the ticket is still accepted.
	if _, err := c.Decode(blob, key, tk.ExpiresAt.Add(skew)); err != nil {
		t.Fatalf("Decode within skew: %v", err)
	}

	// One tick past the tolerance always fails.
	_, err = c.Decode(blob, key, tk.ExpiresAt.Add(skew).Add(time.Nanosecond))
	if !errors.Is(err, ErrExpiredTicket) {
		t.Fatalf("Decode past skew: got %v, want ErrExpiredTicket", err)
	}
}

func TestCodecWrongKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	other, _ := RandomBytes(KeySize)
	c := &Codec{Suite: SuiteAES256GCM, ClockSkew: 2 * time.Minute}

	blob, err := c.Encode(testTicket(now), key, "k")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Tamper detection, not tamper tolerance: the failure is ErrIntegrity,
	// never a silently substituted subject.
	if _, err := c.Decode(blob, other, now); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("Decode with wrong key: got %v, want ErrIntegrity", err)
	}
}

func TestCodecTamperedCiphertext(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	c := &Codec{Suite: SuiteAES256GCM, ClockSkew: 2 * time.Minute}

	blob, err := c.Encode(testTicket(now), key, "k")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	e, err := UnmarshalEncryptedTicket(blob)
	if err != nil {
		t.Fatalf("UnmarshalEncryptedTicket: %v", err)
	}
	e.Ciphertext[len(e.Ciphertext)/2] ^= 0x01
	tampered, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if _, err := c.Decode(tampered, key, now); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("Decode tampered: got %v, want ErrIntegrity", err)
	}
}

func TestCodecMalformedBlob(t *testing.T) {
	key, _ := RandomBytes(KeySize)
	c := &Codec{Suite: SuiteAES256GCM, ClockSkew: 2 * time.Minute}

	_, err := c.Decode([]byte("not json at all"), key, time.Now())
	if !errors.Is(err, ErrMalformedTicket) {
		t.Fatalf("Decode garbage: got %v, want ErrMalformedTicket", err)
	}
}

func TestCodecSuiteMismatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	gcm := &Codec{Suite: SuiteAES256GCM, ClockSkew: 2 * time.Minute}
	cts := &Codec{Suite: SuiteAES256CTSHMAC, ClockSkew: 2 * time.Minute}

	blob, err := gcm.Encode(testTicket(now), key, "k")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := cts.Decode(blob, key, now); !errors.Is(err, ErrMalformedTicket) {
		t.Fatalf("cross-suite decode: got %v, want ErrMalformedTicket", err)
	}
}

func TestCodecCTSRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	c := &Codec{Suite: SuiteAES256CTSHMAC, ClockSkew: 2 * time.Minute}

	blob, err := c.Encode(testTicket(now), key, "k")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(blob, key, now)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SubjectID != "alice" {
		t.Fatalf("subject %q, want alice", got.SubjectID)
	}
}

func TestCodecRejectsInvalidTicket(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key, _ := RandomBytes(KeySize)
	c := &Codec{Suite: SuiteAES256GCM, ClockSkew: 2 * time.Minute}

	tk := testTicket(now)
	tk.ExpiresAt = tk.IssuedAt // violates issued_at < expires_at
	if _, err := c.Encode(tk, key, "k"); !errors.Is(err, ErrMalformedTicket) {
		t.Fatalf("Encode invalid ticket: got %v, want ErrMalformedTicket", err)
	}
}
