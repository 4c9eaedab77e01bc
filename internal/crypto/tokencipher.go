// Package crypto provides AES-256-GCM authenticated encryption for sensitive
// values stored at rest in the database, specifically the accounting
// integration's OAuth credentials. The access and refresh tokens grant full
// read/write access to the company's bookkeeping at the provider, so a leaked
// database dump must not be enough to impersonate the integration. AES-256-GCM
// provides both confidentiality and authenticated integrity, so a stored token
// cannot be silently altered even if an attacker can write to the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the master key length AES-256 requires.
const KeySize = 32

const (
	minSaltSize             = 16
	minPBKDF2Iterations     = 10000
	defaultPBKDF2Iterations = 100000
)

var (
	// ErrKeyLengthInvalid reports a master key that is not exactly KeySize bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted reports a stored value that fails base64 decoding
	// or is too short to hold a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed reports failed GCM authentication: either the value
	// was tampered with or the key is wrong.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort reports a derivation salt under 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// TokenCipher seals and opens token values for database storage. The AEAD is
// built once at construction; the instance is safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher from a raw 32-byte master key.
func NewTokenCipher(masterKey []byte) (*TokenCipher, error) {
	if len(masterKey) != KeySize {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// DeriveTokenCipher builds a cipher from a passphrase via PBKDF2-SHA256, for
// deployments that cannot provision a raw 32-byte key. The salt must be
// per-installation; iteration counts below 10000 are raised to 100000.
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < minSaltSize {
		return nil, ErrSaltTooShort
	}
	if iterations < minPBKDF2Iterations {
		iterations = defaultPBKDF2Iterations
	}
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
	return NewTokenCipher(key)
}

// Seal encrypts plaintext under a fresh random nonce and returns the
// base64-encoded nonce-prefixed ciphertext. Empty input passes through so
// nullable token columns stay empty rather than becoming encrypted empty
// strings.
func (tc *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, tc.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := tc.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It distinguishes structurally broken values
// (ErrCiphertextCorrupted) from authentication failures (ErrDecryptionFailed)
// so operators can tell storage corruption apart from a key mismatch.
func (tc *TokenCipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}
	ns := tc.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCiphertextCorrupted
	}
	plaintext, err := tc.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey returns a random master key of the required size.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt returns a random salt, raising requests under 16 bytes to the
// minimum.
func GenerateSalt(length int) ([]byte, error) {
	if length < minSaltSize {
		length = minSaltSize
	}
	salt := make([]byte, length)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
