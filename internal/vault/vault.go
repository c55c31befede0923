// Package vault encrypts provider credentials at rest.
//
// Ciphertexts are base64 (standard encoding) of a random 12-byte nonce
// followed by the AES-256-GCM sealed payload. The AES key is derived from the
// configured secret with HKDF-SHA256.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/desertthunder/playsync/internal/shared"
	"golang.org/x/crypto/hkdf"
)

const (
	keyLen = 32
	info   = "playsync credential vault v1"
)

// ErrDecrypt is returned for ciphertexts that are malformed, truncated or
// were sealed under a different key.
var ErrDecrypt = fmt.Errorf("failed to decrypt credential")

// Vault seals and opens short secrets such as refresh tokens.
type Vault struct {
	gcm cipher.AEAD
}

// New derives the vault key from secret. Secrets shorter than
// [shared.MinEncryptionKeyLength] bytes are rejected.
func New(secret string) (*Vault, error) {
	if len(secret) < shared.MinEncryptionKeyLength {
		return nil, fmt.Errorf("%w: encryption key must be at least %d characters", shared.ErrInvalidConfig, shared.MinEncryptionKeyLength)
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Vault{gcm: gcm}, nil
}

// Encrypt seals plaintext under a fresh nonce. Empty input is returned unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := v.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by [Vault.Encrypt]. Empty input is returned unchanged.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}

	ns := v.gcm.NonceSize()
	if len(raw) < ns+v.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	plaintext, err := v.gcm.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return string(plaintext), nil
}
