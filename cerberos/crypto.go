package cerberos

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/jcmturner/aescts/v2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Suite identifies a sealing cipher suite.
type Suite uint8

// Sealing suites. GCM is the default; CTS+HMAC is kept for deployments that
// require a Kerberos-style confounder construction.
const (
	SuiteAES256GCM     Suite = 1 // AES-256-GCM, 12-byte nonce, 16-byte tag
	SuiteAES256CTSHMAC Suite = 2 // AES-256-CTS with HMAC-SHA1-96 over plaintext
)

// Key and construction sizes.
const (
	KeySize        = 32 // all derived and session keys are 256-bit
	gcmNonceSize   = 12
	confounderSize = 16 // CTS confounder, one AES block
	ctsMACSize     = 12 // HMAC-SHA1 truncated to 96 bits

	credentialHashSize = 32
	credentialSaltSize = 32
	credentialIters    = 100000
)

func (s Suite) String() string {
	switch s {
	case SuiteAES256GCM:
		return "aes256-gcm"
	case SuiteAES256CTSHMAC:
		return "aes256-cts-hmac-sha1-96"
	}
	return fmt.Sprintf("suite(%d)", uint8(s))
}

func (s Suite) valid() bool {
	return s == SuiteAES256GCM || s == SuiteAES256CTSHMAC
}

// DeriveKey derives a 256-bit sealing key from a master secret, separated by
// context. The derivation is one-way: derived keys do not reveal the master
// secret or each other. Contexts must be unique per key purpose, e.g.
// "tgt-seal|REALM" versus "st-seal|service".
func DeriveKey(master []byte, context string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("empty master secret")
	}
	r := hkdf.New(sha256.New, master, nil, []byte(context))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// Seal encrypts and authenticates plaintext under key with the given suite.
// The associated data is authenticated but not encrypted. A fresh nonce or
// confounder is drawn per call; nonces are never reused under the same key.
func Seal(suite Suite, key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(key))
	}
	switch suite {
	case SuiteAES256GCM:
		return sealGCM(key, plaintext, aad)
	case SuiteAES256CTSHMAC:
		return sealCTS(key, plaintext, aad)
	}
	return nil, fmt.Errorf("unsupported suite: %d", suite)
}

// Open authenticates and decrypts data produced by Seal. It returns
// ErrIntegrity when the tag does not verify and ErrDecrypt on structurally
// invalid input.
func Open(suite Suite, key, sealed, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: bad key length %d", ErrDecrypt, len(key))
	}
	switch suite {
	case SuiteAES256GCM:
		return openGCM(key, sealed, aad)
	case SuiteAES256CTSHMAC:
		return openCTS(key, sealed, aad)
	}
	return nil, fmt.Errorf("%w: unsupported suite %d", ErrDecrypt, suite)
}

func sealGCM(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(gcmNonceSize)
	if err != nil {
		return nil, err
	}
	// Output layout: nonce || ciphertext || tag.
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func openGCM(key, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(sealed) < gcmNonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: sealed data too short (%d bytes)", ErrDecrypt, len(sealed))
	}
	nonce, ciphertext := sealed[:gcmNonceSize], sealed[gcmNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		// GCM reports tampering and malformed ciphertext identically; treat
		// both as an integrity failure.
		return nil, fmt.Errorf("%w: gcm open", ErrIntegrity)
	}
	return plaintext, nil
}

// sealCTS encrypts with AES-256-CTS and appends an HMAC-SHA1-96 tag computed
// over aad || confounder || plaintext. The confounder randomizes the first
// block since CTS itself runs with a zero IV.
func sealCTS(key, plaintext, aad []byte) ([]byte, error) {
	ke, ki, err := ctsSubkeys(key)
	if err != nil {
		return nil, err
	}
	confounder, err := RandomBytes(confounderSize)
	if err != nil {
		return nil, err
	}
	plainBytes := append(confounder, plaintext...)

	iv := make([]byte, aes.BlockSize)
	_, ciphertext, err := aescts.Encrypt(ke, iv, plainBytes)
	if err != nil {
		return nil, fmt.Errorf("cts encrypt: %w", err)
	}

	h := hmac.New(sha1.New, ki)
	h.Write(aad)
	h.Write(plainBytes)
	mac := h.Sum(nil)[:ctsMACSize]

	return append(ciphertext, mac...), nil
}

func openCTS(key, sealed, aad []byte) ([]byte, error) {
	ke, ki, err := ctsSubkeys(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(sealed) < confounderSize+ctsMACSize {
		return nil, fmt.Errorf("%w: sealed data too short (%d bytes)", ErrDecrypt, len(sealed))
	}
	ciphertext := sealed[:len(sealed)-ctsMACSize]
	expectedMAC := sealed[len(sealed)-ctsMACSize:]

	iv := make([]byte, aes.BlockSize)
	plainBytes, err := aescts.Decrypt(ke, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: cts decrypt", ErrDecrypt)
	}

	// The MAC covers the plaintext, so it is verified after decryption.
	h := hmac.New(sha1.New, ki)
	h.Write(aad)
	h.Write(plainBytes)
	actualMAC := h.Sum(nil)[:ctsMACSize]
	if !hmac.Equal(expectedMAC, actualMAC) {
		return nil, fmt.Errorf("%w: hmac verification failed", ErrIntegrity)
	}

	if len(plainBytes) < confounderSize {
		return nil, fmt.Errorf("%w: plaintext shorter than confounder", ErrDecrypt)
	}
	return plainBytes[confounderSize:], nil
}

// ctsSubkeys derives separate encryption and integrity keys for the CTS suite
// so the same base key never serves both roles.
func ctsSubkeys(key []byte) (ke, ki []byte, err error) {
	ke, err = DeriveKey(key, "cts-encrypt")
	if err != nil {
		return nil, nil, err
	}
	ki, err = DeriveKey(key, "cts-integrity")
	if err != nil {
		return nil, nil, err
	}
	return ke, ki, nil
}

// HashCredential computes the slow credential hash used at provisioning and
// verification: PBKDF2-HMAC-SHA256 with 100k iterations.
func HashCredential(credential, salt []byte) []byte {
	return pbkdf2.Key(credential, salt, credentialIters, credentialHashSize, sha256.New)
}

// NewCredentialSalt returns a fresh random salt for credential hashing.
func NewCredentialSalt() ([]byte, error) {
	return RandomBytes(credentialSaltSize)
}

// VerifyCredential recomputes the credential hash and compares it in constant
// time against the stored hash.
func VerifyCredential(credential, salt, storedHash []byte) bool {
	computed := HashCredential(credential, salt)
	return subtle.ConstantTimeCompare(computed, storedHash) == 1
}
