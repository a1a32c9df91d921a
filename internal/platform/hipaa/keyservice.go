package hipaa

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// masterTokenPrefix marks a ciphertext produced directly under a master key.
const masterTokenPrefix = "cmk"

// KeyService is the key-management capability the cipher delegates to. The
// implementation holds key material; the rest of the system only ever sees
// opaque ciphertext tokens and short-lived plaintext data keys.
type KeyService interface {
	// EncryptWithMasterKey encrypts a small value directly under the master
	// key and returns an opaque token.
	EncryptWithMasterKey(ctx context.Context, plaintext []byte) (string, error)

	// DecryptWithMasterKey reverses EncryptWithMasterKey.
	DecryptWithMasterKey(ctx context.Context, token string) ([]byte, error)

	// GenerateDataKey returns a fresh 32-byte data key in both plaintext and
	// wrapped (master-key encrypted) form. The plaintext key must be used and
	// discarded within the call; only the wrapped form may be persisted.
	GenerateDataKey(ctx context.Context) (plaintext []byte, wrapped string, err error)
}

// LocalKeyService implements KeyService with an in-process AES-256 master key.
// It stands in for an external KMS in single-node deployments; the token and
// data-key contract is the same either way.
type LocalKeyService struct {
	sealer *aeadSealer
}

// NewLocalKeyService creates a key service from a 32-byte master key.
func NewLocalKeyService(masterKey []byte) (*LocalKeyService, error) {
	sealer, err := newAEADSealer(masterKey)
	if err != nil {
		return nil, fmt.Errorf("key service: %w", err)
	}
	return &LocalKeyService{sealer: sealer}, nil
}

func (s *LocalKeyService) EncryptWithMasterKey(ctx context.Context, plaintext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	triplet, err := s.sealer.sealTriplet(plaintext)
	if err != nil {
		return "", err
	}
	return masterTokenPrefix + tripletDelimiter + triplet, nil
}

func (s *LocalKeyService) DecryptWithMasterKey(ctx context.Context, token string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	triplet, ok := strings.CutPrefix(token, masterTokenPrefix+tripletDelimiter)
	if !ok {
		return nil, fmt.Errorf("key service: not a master-key token")
	}
	return s.sealer.openTriplet(triplet)
}

func (s *LocalKeyService) GenerateDataKey(ctx context.Context) ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, "", fmt.Errorf("key service: generate data key: %w", err)
	}
	wrapped, err := s.EncryptWithMasterKey(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return key, wrapped, nil
}

// keyVersionPrefix introduces the key-version segment on rotated tokens, e.g.
// "k2.cmk.<iv>.<tag>.<ct>".
const keyVersionPrefix = "k"

// RotatingKeyService wraps versioned KeyServices so the master key can be
// rotated without re-encrypting existing data immediately. New tokens carry the
// current version; decryption dispatches on the version segment.
type RotatingKeyService struct {
	mu         sync.RWMutex
	current    KeyService
	currentVer int
	previous   map[int]KeyService
}

// NewRotatingKeyService creates a rotating service with the current key version.
func NewRotatingKeyService(current KeyService, version int) *RotatingKeyService {
	return &RotatingKeyService{
		current:    current,
		currentVer: version,
		previous:   make(map[int]KeyService),
	}
}

// AddPreviousVersion registers a retired key version for decryption only.
func (r *RotatingKeyService) AddPreviousVersion(svc KeyService, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous[version] = svc
}

// CurrentVersion returns the active key version.
func (r *RotatingKeyService) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVer
}

func (r *RotatingKeyService) EncryptWithMasterKey(ctx context.Context, plaintext []byte) (string, error) {
	r.mu.RLock()
	svc, ver := r.current, r.currentVer
	r.mu.RUnlock()

	token, err := svc.EncryptWithMasterKey(ctx, plaintext)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d%s%s", keyVersionPrefix, ver, tripletDelimiter, token), nil
}

func (r *RotatingKeyService) DecryptWithMasterKey(ctx context.Context, token string) ([]byte, error) {
	version, rest, err := parseVersionedToken(token)
	if err != nil {
		// No version segment: legacy token under the current key.
		r.mu.RLock()
		svc := r.current
		r.mu.RUnlock()
		return svc.DecryptWithMasterKey(ctx, token)
	}

	r.mu.RLock()
	svc := r.current
	if version != r.currentVer {
		svc = r.previous[version]
	}
	r.mu.RUnlock()

	if svc == nil {
		return nil, fmt.Errorf("key service: no key for version %d", version)
	}
	return svc.DecryptWithMasterKey(ctx, rest)
}

func (r *RotatingKeyService) GenerateDataKey(ctx context.Context) ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, "", fmt.Errorf("key service: generate data key: %w", err)
	}
	wrapped, err := r.EncryptWithMasterKey(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return key, wrapped, nil
}

// NeedsRewrap reports whether a token was produced under a retired key version.
func (r *RotatingKeyService) NeedsRewrap(token string) bool {
	version, _, err := parseVersionedToken(token)
	if err != nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return version != r.currentVer
}

func parseVersionedToken(token string) (int, string, error) {
	if !strings.HasPrefix(token, keyVersionPrefix) {
		return 0, "", fmt.Errorf("no version segment")
	}
	idx := strings.Index(token, tripletDelimiter)
	if idx < 0 {
		return 0, "", fmt.Errorf("no version delimiter")
	}
	version, err := strconv.Atoi(token[len(keyVersionPrefix):idx])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version segment: %w", err)
	}
	return version, token[idx+1:], nil
}

// encodeSegment base64url-encodes an embedded token so it occupies exactly one
// delimiter-free segment of an envelope value.
func encodeSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeSegment(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
