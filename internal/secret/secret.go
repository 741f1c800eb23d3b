// Package secret encrypts credential blobs at rest and compares API keys
// without leaking timing.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrCorrupted reports ciphertext that cannot be authenticated or decoded.
// Callers surface it as "credentials corrupted, re-import the account" and
// must never delete the row on their own.
var ErrCorrupted = errors.New("secret: ciphertext corrupted")

const (
	hkdfSalt = "omni2api-credential"
	hkdfInfo = "aes-256-gcm"
)

// Cipher seals and opens credential plaintext with AES-256-GCM. The key is
// derived from the configured passphrase, so any non-empty secret works.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 32-byte key from passphrase via HKDF-SHA256 and
// prepares the AEAD. The passphrase must be non-empty.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("secret: empty encryption passphrase")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secret: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext). A fresh
// nonce is drawn per call, so equal plaintexts never produce equal outputs.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any decode or authentication failure maps to
// ErrCorrupted so callers can distinguish bad data from transient faults.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: short ciphertext", ErrCorrupted)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return string(plain), nil
}

// ConstantTimeEquals compares two keys in constant time.
func ConstantTimeEquals(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
