// Package secretbox seals small secrets (provider refresh tokens) for storage at rest.
//
// Format: base64(nonce) | base64(ciphertext), XChaCha20-Poly1305.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sep = "|"

// KeyLength is the required master key length in bytes.
const KeyLength = chacha20poly1305.KeySize

var (
	ErrKeyLength  = errors.New("secretbox: master key must be 32 bytes")
	ErrCiphertext = errors.New("secretbox: malformed or corrupted ciphertext")
)

// Box seals and opens secrets with a fixed master key. The key is supplied
// explicitly at construction; there is no process-wide key state.
type Box struct {
	key []byte
}

// New creates a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeyLength {
		return nil, ErrKeyLength
	}
	k := make([]byte, KeyLength)
	copy(k, key)
	return &Box{key: k}, nil
}

// NewFromBase64 creates a Box from a base64-encoded key, the form used in config.
// Generate one with: openssl rand -base64 32
func NewFromBase64(b64 string) (*Box, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode key: %w", err)
	}
	return New(k)
}

// Seal encrypts plaintext and returns base64(nonce)|base64(ciphertext).
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	parts := strings.SplitN(sealed, sep, 2)
	if len(parts) != 2 {
		return "", ErrCiphertext
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrCiphertext
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrCiphertext
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrCiphertext
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(pt), nil
}
