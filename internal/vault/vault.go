// Package vault encrypts provider tokens at rest.
//
// Envelope (v1), base64 encoded:
//
//	| version (1) | nonce (12) | tag (16) | ciphertext (n) |
//
// AES-256-GCM with a key derived by SHA-256 over the configured secret.
// Values written before the envelope existed use the legacy
// "ivhex:cipherhex" AES-256-CBC form; they are still readable so they can be
// migrated, but are never produced.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pysugar/area-nexus/internal/apperr"
)

const (
	// VersionV1 is the only envelope version written today.
	VersionV1 byte = 1

	nonceSize  = 12
	tagSize    = 16
	headerSize = 1 + nonceSize + tagSize
)

var (
	// ErrIntegrity is returned when authentication of the ciphertext fails.
	ErrIntegrity = errors.New("vault: ciphertext failed integrity check")
	// ErrCorrupt is returned for envelopes that are neither v1 nor legacy.
	ErrCorrupt = errors.New("vault: unrecognized ciphertext envelope")
)

// 16-byte IV in hex, a colon, then whole CBC blocks in hex.
var legacyPattern = regexp.MustCompile(`^[0-9a-f]{32}:(?:[0-9a-f]{32})+$`)

// Vault holds the derived key. It carries no other state.
type Vault struct {
	block cipher.Block
	aead  cipher.AEAD
}

// New derives the key from secret. An empty secret is a configuration error.
func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperr.Configuration("vault.New", "token encryption secret is not configured")
	}
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{block: block, aead: aead}, nil
}

// Encrypt seals plaintext into a v1 envelope.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: read nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the envelope stores it first.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, headerSize+len(ct))
	buf = append(buf, VersionV1)
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a v1 envelope, or a legacy value when it matches the legacy
// shape exactly.
func (v *Vault) Decrypt(envelope string) (string, error) {
	if IsLegacy(envelope) {
		return v.decryptLegacy(envelope)
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) < headerSize {
		return "", fmt.Errorf("%w: envelope too short (%d bytes)", ErrCorrupt, len(raw))
	}
	if raw[0] != VersionV1 {
		return "", fmt.Errorf("%w: unknown version %d", ErrCorrupt, raw[0])
	}

	nonce := raw[1 : 1+nonceSize]
	tag := raw[1+nonceSize : headerSize]
	ct := raw[headerSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

// IsLegacy reports whether envelope is in the pre-v1 format and should be
// re-encrypted.
func IsLegacy(envelope string) bool {
	return legacyPattern.MatchString(envelope)
}

func (v *Vault) decryptLegacy(envelope string) (string, error) {
	ivHex, ctHex, _ := strings.Cut(envelope, ":")
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: legacy iv: %v", ErrCorrupt, err)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: legacy ciphertext: %v", ErrCorrupt, err)
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(v.block, iv).CryptBlocks(out, ct)

	plaintext, ok := unpad(out)
	if !ok {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, false
	}
	return b[:len(b)-n], true
}
