// Package crypto implements the authenticated encryption and hashing
// primitives the orchestration engine needs for credential hygiene (spec
// §3 I5, §9 "do not roll a custom scheme").
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CredentialCipher seals and opens Credential passwords with a process-wide
// ChaCha20-Poly1305 key, loaded once at startup and never mutated.
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher constructs a cipher from a 32-byte key.
func NewCredentialCipher(key [chacha20poly1305.KeySize]byte) (*CredentialCipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

// DecodeKey decodes a URL-safe base64-encoded 32-byte key, the format
// ENCRYPTION_KEY is configured in.
func DecodeKey(b64 string) ([chacha20poly1305.KeySize]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	raw, err := base64.URLEncoding.DecodeString(b64)
	if err != nil {
		// also accept unpadded encoding
		raw, err = base64.RawURLEncoding.DecodeString(b64)
		if err != nil {
			return key, fmt.Errorf("decode encryption key: %w", err)
		}
	}
	if len(raw) != chacha20poly1305.KeySize {
		return key, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Seal encrypts plaintext, prefixing the random nonce to the returned ciphertext.
func (c *CredentialCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext produced by Seal. A decryption failure is always
// a hard error (I5): callers must never substitute an empty string.
func (c *CredentialCipher) Open(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open credential ciphertext: %w", err)
	}
	return plaintext, nil
}
