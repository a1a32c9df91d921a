package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// tripletDelimiter separates the iv, auth tag, and ciphertext segments of a
// locally encrypted value. Segments are base64url encoded so the delimiter can
// never appear inside a segment.
const tripletDelimiter = "."

const gcmTagSize = 16

// aeadSealer performs AES-256-GCM authenticated encryption for a single key.
// It is the primitive under both the master-key service and the bulk data-key
// path; callers outside this package use Cipher or KeyService instead.
type aeadSealer struct {
	aead cipher.AEAD
}

func newAEADSealer(key []byte) (*aeadSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aead: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: create GCM: %w", err)
	}

	return &aeadSealer{aead: aead}, nil
}

// sealTriplet encrypts data and packs the result as iv.tag.ciphertext. A fresh
// random iv is drawn per call, so sealing identical plaintexts twice yields
// different triplets.
func (s *aeadSealer) sealTriplet(data []byte) (string, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("aead: generate iv: %w", err)
	}

	sealed := s.aead.Seal(nil, iv, data, nil)
	if len(sealed) < gcmTagSize {
		return "", fmt.Errorf("aead: sealed output too short")
	}

	// GCM appends the auth tag to the ciphertext; split it back out so the
	// packed form carries the three segments explicitly.
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	enc := base64.RawURLEncoding
	return enc.EncodeToString(iv) + tripletDelimiter +
		enc.EncodeToString(tag) + tripletDelimiter +
		enc.EncodeToString(ct), nil
}

// openTriplet unpacks and decrypts an iv.tag.ciphertext value. Any malformed
// segment or failed integrity check returns an error and no partial plaintext.
func (s *aeadSealer) openTriplet(packed string) ([]byte, error) {
	parts := strings.Split(packed, tripletDelimiter)
	if len(parts) != 3 {
		return nil, fmt.Errorf("aead: expected 3 segments, got %d", len(parts))
	}

	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("aead: decode iv: %w", err)
	}
	if len(iv) != s.aead.NonceSize() {
		return nil, fmt.Errorf("aead: iv must be %d bytes, got %d", s.aead.NonceSize(), len(iv))
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("aead: decode tag: %w", err)
	}
	if len(tag) != gcmTagSize {
		return nil, fmt.Errorf("aead: tag must be %d bytes, got %d", gcmTagSize, len(tag))
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("aead: decode ciphertext: %w", err)
	}

	plaintext, err := s.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	return plaintext, nil
}
