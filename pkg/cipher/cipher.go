// Package cipher seals message bodies before they reach storage.
//
// Stored form is "v1:" followed by base64(nonce || AES-256-GCM ciphertext). The key is
// derived from the server secret with HKDF-SHA256, so rotating the secret without a
// migration leaves old rows unreadable; those render as UndecryptablePlaceholder.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
)

// UndecryptablePlaceholder replaces bodies that cannot be opened
const UndecryptablePlaceholder = "[message could not be decrypted]"

const (
	versionPrefix = "v1:"
	keyInfo       = "rendezvous/message-body/v1"
)

// ErrEmptySecret is returned by New when no secret is configured
var ErrEmptySecret = errors.New("cipher secret is empty")

// Codec encrypts and decrypts message bodies. It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New derives the body key from secret and returns a Codec
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored body. It never fails: anything that cannot be opened
// yields UndecryptablePlaceholder.
func (c *Codec) Decrypt(stored string) string {
	plaintext, err := c.open(stored)
	if err != nil {
		metrics.ChatMessageUndecryptableTotal.Inc()
		logger.Debug("Message body could not be decrypted", zap.Error(err))
		return UndecryptablePlaceholder
	}
	return plaintext
}

func (c *Codec) open(stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, versionPrefix)
	if !ok {
		return "", errors.New("unknown body format")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", errors.New("body too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open body: %w", err)
	}
	return string(plaintext), nil
}
