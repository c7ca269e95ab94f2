package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashParams are the Argon2id cost factors embedded in every hash blob
type HashParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams: 64 MiB, 3 passes, 2 lanes
var DefaultHashParams = HashParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Upper bounds accepted from a stored blob. A corrupted or hostile blob must
// not be able to make Verify allocate arbitrary memory.
const (
	maxBlobMemory     = 1 << 20 // 1 GiB
	maxBlobIterations = 64
	maxBlobKeyLength  = 128
)

var errMalformedHash = errors.New("malformed hash")

// CredentialHasher produces and verifies Argon2id hash blobs in PHC format.
// Blobs produced by the earlier bcrypt scheme still verify.
type CredentialHasher struct {
	params HashParams
	logger *slog.Logger
}

// NewCredentialHasher creates a hasher with the given parameters.
// Zero fields fall back to DefaultHashParams.
func NewCredentialHasher(params HashParams, logger *slog.Logger) *CredentialHasher {
	if params.Memory == 0 {
		params.Memory = DefaultHashParams.Memory
	}
	if params.Iterations == 0 {
		params.Iterations = DefaultHashParams.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = DefaultHashParams.Parallelism
	}
	if params.SaltLength == 0 {
		params.SaltLength = DefaultHashParams.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = DefaultHashParams.KeyLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialHasher{params: params, logger: logger}
}

// Params returns the parameters new hashes are produced with
func (h *CredentialHasher) Params() HashParams {
	return h.params
}

// Hash derives a blob from secret with a fresh random salt
func (h *CredentialHasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches blob. Malformed blobs fail closed
// and are logged, never surfaced to the caller.
func (h *CredentialHasher) Verify(secret, blob string) bool {
	if isBcrypt(blob) {
		err := bcrypt.CompareHashAndPassword([]byte(blob), []byte(secret))
		if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			h.logger.Warn("Malformed bcrypt hash", "error", err)
		}
		return err == nil
	}

	params, salt, key, err := decodeArgon2id(blob)
	if err != nil {
		h.logger.Warn("Malformed credential hash", "error", err)
		return false
	}

	other := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1
}

// NeedsRehash reports whether blob was produced by another algorithm or
// with parameters other than the current ones
func (h *CredentialHasher) NeedsRehash(blob string) bool {
	if isBcrypt(blob) {
		return true
	}
	params, salt, _, err := decodeArgon2id(blob)
	if err != nil {
		return true
	}
	return params.Memory != h.params.Memory ||
		params.Iterations != h.params.Iterations ||
		params.Parallelism != h.params.Parallelism ||
		params.KeyLength != h.params.KeyLength ||
		uint32(len(salt)) != h.params.SaltLength
}

func isBcrypt(blob string) bool {
	return strings.HasPrefix(blob, "$2a$") ||
		strings.HasPrefix(blob, "$2b$") ||
		strings.HasPrefix(blob, "$2y$")
}

func decodeArgon2id(blob string) (HashParams, []byte, []byte, error) {
	var p HashParams

	parts := strings.Split(blob, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("%w: unexpected layout", errMalformedHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: version: %v", errMalformedHash, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %d", errMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("%w: parameters: %v", errMalformedHash, err)
	}
	if p.Memory == 0 || p.Memory > maxBlobMemory ||
		p.Iterations == 0 || p.Iterations > maxBlobIterations ||
		p.Parallelism == 0 || p.Memory < 8*uint32(p.Parallelism) {
		return p, nil, nil, fmt.Errorf("%w: parameters out of range", errMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, fmt.Errorf("%w: salt", errMalformedHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxBlobKeyLength {
		return p, nil, nil, fmt.Errorf("%w: key", errMalformedHash)
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
