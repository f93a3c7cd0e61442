// Package cryptobox seals and opens session payloads with an AEAD cipher so
// they can be stored at rest in the cache and database without exposing
// subject identifiers. Values sealed by an older, unencrypted deployment pass
// through Open unchanged, which allows a rolling migration.
package cryptobox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix marks values produced by Seal. Open treats anything without it
// as legacy plaintext.
const sealedPrefix = "enc1:"

// KeySize is the required symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrInvalidKey is returned when the key is not exactly KeySize bytes.
	ErrInvalidKey = errors.New("cryptobox: key must be 32 bytes")
	// ErrDecrypt is returned when a sealed value fails authentication.
	ErrDecrypt = errors.New("cryptobox: decryption failed")
)

// Box performs authenticated encryption of small payloads with a single
// process-wide key. Construct once at startup and inject.
type Box struct {
	key []byte
}

// New returns a Box using key, which must be exactly KeySize bytes.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	b := &Box{key: make([]byte, KeySize)}
	copy(b.key, key)
	return b, nil
}

// NewFromHex returns a Box from a hex-encoded key, as carried in config.
func NewFromHex(s string) (*Box, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decode key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext with a random nonce and returns a self-describing
// string: the sealed prefix followed by base64(nonce || ciphertext).
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("cryptobox: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptobox: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Input that does not carry the
// sealed prefix, or whose body is not valid base64, is returned unchanged:
// it predates encryption at rest. A well-formed sealed value that fails
// authentication returns ErrDecrypt.
func (b *Box) Open(value string) (string, error) {
	body, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return value, nil
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("cryptobox: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return value, nil
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// IsSealed reports whether value looks like a Seal output. It checks shape
// only and never attempts decryption.
func IsSealed(value string) bool {
	body, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return false
	}
	return len(raw) >= chacha20poly1305.NonceSizeX
}
