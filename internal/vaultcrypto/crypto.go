// Package vaultcrypto seals and opens the encrypted blobs persisted by
// the credential vault and template store. Blobs are AES-256-GCM
// ciphertexts, base64-encoded so the files stay plain text on disk.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrIntegrityViolation is returned when a stored blob fails
// authentication or decoding. The vault fails closed: a tampered or
// truncated file never yields data.
var ErrIntegrityViolation = errors.New("vaultcrypto: integrity violation")

// Cipher performs authenticated encryption with a key derived from a
// single process-held secret.
type Cipher struct {
	aead cipher.AEAD
}

// New derives an AEAD cipher from the deployment secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("vaultcrypto: empty secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns a base64 string with the random
// nonce prepended to the ciphertext.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decodes and decrypts a blob produced by Seal. Any failure,
// whether bad encoding, a short blob, or a GCM tag mismatch, is
// reported as ErrIntegrityViolation.
func (c *Cipher) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: blob shorter than nonce", ErrIntegrityViolation)
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
	}
	return plaintext, nil
}
