package hipaa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/carebridge/carebridge/internal/platform/errs"
)

// envelopePrefix marks a bulk value encrypted under a generated data key.
const envelopePrefix = "env"

// maskRun is the fixed-length middle segment of a masked value. Its length is
// constant regardless of how many characters it hides, so a masked value does
// not leak the plaintext length.
const maskRun = "****"

// defaultKeyOpTimeout bounds every key-management call issued by the cipher.
const defaultKeyOpTimeout = 5 * time.Second

// Cipher is the single boundary through which protected field values pass in
// plaintext. Small values are encrypted directly under the master key; bulk
// values go through the envelope path with a per-value data key. Decryption
// failures surface as CryptoError and are never swallowed.
type Cipher struct {
	keys     KeyService
	hashKey  []byte
	keyOpTTL time.Duration
}

// NewCipher creates a Cipher over the given key service. hashSecret seeds the
// keyed digest used for equality-searchable fields; it must be non-empty and
// should be managed alongside the master key.
func NewCipher(keys KeyService, hashSecret []byte) (*Cipher, error) {
	if len(hashSecret) == 0 {
		return nil, fmt.Errorf("cipher: hash secret is required")
	}

	hashKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, hashSecret, nil, []byte("carebridge/phi-search-hash/v1"))
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, fmt.Errorf("cipher: derive hash key: %w", err)
	}

	return &Cipher{keys: keys, hashKey: hashKey, keyOpTTL: defaultKeyOpTimeout}, nil
}

// Encrypt encrypts a field value directly under the master key. Repeated calls
// on the same plaintext yield different ciphertexts; never compare ciphertexts
// for equality, use Hash for searchable fields instead.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.keyOpTTL)
	defer cancel()

	token, err := c.keys.EncryptWithMasterKey(ctx, []byte(plaintext))
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("encrypt: %w", err))
	}
	return token, nil
}

// EncryptBulk envelope-encrypts a value: a fresh data key seals the plaintext
// locally and only the wrapped form of that key is embedded in the result. Use
// for large or numerous values where one key-management call per value would
// be too costly.
func (c *Cipher) EncryptBulk(ctx context.Context, plaintext string) (string, error) {
	keyCtx, cancel := context.WithTimeout(ctx, c.keyOpTTL)
	defer cancel()

	dataKey, wrapped, err := c.keys.GenerateDataKey(keyCtx)
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("encrypt bulk: data key: %w", err))
	}

	sealer, err := newAEADSealer(dataKey)
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("encrypt bulk: %w", err))
	}
	triplet, err := sealer.sealTriplet([]byte(plaintext))
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("encrypt bulk: %w", err))
	}

	return envelopePrefix + tripletDelimiter + encodeSegment(wrapped) + tripletDelimiter + triplet, nil
}

// Decrypt reverses Encrypt or EncryptBulk, dispatching on the value's leading
// segment. It fails closed: a malformed value, an unavailable key, or a failed
// integrity check returns a CryptoError and no plaintext.
func (c *Cipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	switch {
	case strings.HasPrefix(ciphertext, envelopePrefix+tripletDelimiter):
		return c.decryptBulk(ctx, ciphertext)
	default:
		ctx, cancel := context.WithTimeout(ctx, c.keyOpTTL)
		defer cancel()
		plaintext, err := c.keys.DecryptWithMasterKey(ctx, ciphertext)
		if err != nil {
			return "", errs.Crypto(fmt.Errorf("decrypt: %w", err))
		}
		return string(plaintext), nil
	}
}

func (c *Cipher) decryptBulk(ctx context.Context, ciphertext string) (string, error) {
	body := strings.TrimPrefix(ciphertext, envelopePrefix+tripletDelimiter)
	parts := strings.SplitN(body, tripletDelimiter, 2)
	if len(parts) != 2 {
		return "", errs.Crypto(fmt.Errorf("decrypt bulk: malformed envelope"))
	}

	wrapped, err := decodeSegment(parts[0])
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("decrypt bulk: decode wrapped key: %w", err))
	}

	keyCtx, cancel := context.WithTimeout(ctx, c.keyOpTTL)
	defer cancel()
	dataKey, err := c.keys.DecryptWithMasterKey(keyCtx, wrapped)
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("decrypt bulk: unwrap data key: %w", err))
	}

	sealer, err := newAEADSealer(dataKey)
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("decrypt bulk: %w", err))
	}
	plaintext, err := sealer.openTriplet(parts[1])
	if err != nil {
		return "", errs.Crypto(fmt.Errorf("decrypt bulk: %w", err))
	}
	return string(plaintext), nil
}

// Hash produces a keyed one-way digest of a field value for equality search
// without storing plaintext. Equal inputs always produce equal digests under
// the same hash secret.
func (c *Cipher) Hash(data string) string {
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Mask returns a display form revealing only the first and last visible
// characters with a fixed-length run in between. Pure and local; no key
// material involved. Values too short to keep anything hidden are fully masked.
func Mask(data string, visible int) string {
	if visible < 0 {
		visible = 0
	}
	runes := []rune(data)
	if len(runes) <= visible*2 {
		return maskRun
	}
	return string(runes[:visible]) + maskRun + string(runes[len(runes)-visible:])
}

// MaskSSN formats a social security number for display, keeping the last four
// digits only.
func MaskSSN(ssn string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, ssn)
	if len(digits) < 4 {
		return maskRun
	}
	return maskRun + digits[len(digits)-4:]
}
