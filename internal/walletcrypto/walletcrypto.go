// Package walletcrypto seals and opens wallet seed material and stream keys
// at rest. Keys never leave this package in derived form.
package walletcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sealer encrypts and decrypts secrets with AES-256-GCM. The key is derived
// from a configured shared secret with HKDF-SHA256, so the secret itself is
// never used as key material directly.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the encryption key from the shared secret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("wallet encryption secret is required")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("opnode-wallet-seal-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns the base64 ciphertext and nonce.
func (s *Sealer) Seal(plaintext []byte) (ciphertext, nonce string, err error) {
	nonceBytes := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, nonceBytes, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonceBytes),
		nil
}

// Open decrypts a base64 ciphertext/nonce pair. A wrong key fails
// authentication; it never returns wrong plaintext.
func (s *Sealer) Open(ciphertext, nonce string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonceBytes) != s.aead.NonceSize() {
		return nil, fmt.Errorf("nonce length %d, want %d", len(nonceBytes), s.aead.NonceSize())
	}

	plaintext, err := s.aead.Open(nil, nonceBytes, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

// SealString is Seal for string plaintext.
func (s *Sealer) SealString(plaintext string) (ciphertext, nonce string, err error) {
	return s.Seal([]byte(plaintext))
}

// OpenString is Open returning a string.
func (s *Sealer) OpenString(ciphertext, nonce string) (string, error) {
	plaintext, err := s.Open(ciphertext, nonce)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
