package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// sealedPrefix marks stored values produced by TokenCipher.Seal.
const sealedPrefix = "sb1:"

const nonceSize = 24

// ErrSealedTokenCorrupt indicates a sealed value could not be opened with the configured key.
var ErrSealedTokenCorrupt = errors.New("sealed token corrupt")

// TokenCipher seals provider access tokens before they are written to the database.
// A cipher without a key passes values through unchanged.
type TokenCipher struct {
	key    *[32]byte
	random io.Reader
}

// NewTokenCipher builds a cipher from a base64-encoded 32-byte key. An empty key disables sealing.
func NewTokenCipher(encodedKey string) (*TokenCipher, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return &TokenCipher{random: rand.Reader}, nil
	}
	raw, errDecode := base64.StdEncoding.DecodeString(encodedKey)
	if errDecode != nil {
		return nil, fmt.Errorf("security: decode token key: %w", errDecode)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("security: token key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &TokenCipher{key: &key, random: rand.Reader}, nil
}

// Enabled reports whether values are sealed.
func (c *TokenCipher) Enabled() bool {
	return c != nil && c.key != nil
}

// Seal encrypts plaintext. Without a key the plaintext is returned as is.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	var nonce [nonceSize]byte
	if _, errRead := io.ReadFull(c.random, nonce[:]); errRead != nil {
		return "", fmt.Errorf("security: read nonce: %w", errRead)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, c.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Unsealed legacy values are returned unchanged.
func (c *TokenCipher) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !c.Enabled() {
		return "", fmt.Errorf("security: sealed token present but no token key configured")
	}
	raw, errDecode := base64.RawStdEncoding.DecodeString(stored[len(sealedPrefix):])
	if errDecode != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrSealedTokenCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, c.key)
	if !ok {
		return "", ErrSealedTokenCorrupt
	}
	return string(opened), nil
}
