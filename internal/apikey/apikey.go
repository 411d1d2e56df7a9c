// Package apikey issues and verifies the admin API key. Keys are only ever
// stored as Argon2id hashes in PHC string format.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyPrefix marks handoff admin keys
	KeyPrefix = "hnd_"

	// KeyLength is the number of random bytes behind each key
	KeyLength = 32

	encodedKeyLength = 43 // base64url of KeyLength bytes, no padding
	saltLength       = 16
)

// Params are the Argon2id cost parameters
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams keeps a verification around 100ms on a small VM
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

// ErrMalformedHash is returned for a stored hash that cannot be parsed
var ErrMalformedHash = errors.New("malformed API key hash")

// Generate returns a new random key: hnd_<base64url(32 bytes)>
func Generate() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash derives the PHC string $argon2id$v=19$m=..,t=..,p=..$salt$hash for key
func Hash(key string) (string, error) {
	return HashWithParams(key, DefaultParams)
}

// HashWithParams is Hash with explicit cost parameters
func HashWithParams(key string, p Params) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Validate checks key against a stored hash in constant time. The cost
// parameters come from the hash itself.
func Validate(key, encoded string) bool {
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(key), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: zero cost parameter", ErrMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: hash", ErrMalformedHash)
	}
	p.KeyLen = uint32(len(sum))

	return p, salt, sum, nil
}

// ValidHash reports whether encoded is a hash Validate can use
func ValidHash(encoded string) bool {
	_, _, _, err := decodeHash(encoded)
	return err == nil
}

// ValidateFormat checks the prefix, length and encoding of a key
func ValidateFormat(key string) bool {
	encoded, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || len(encoded) != encodedKeyLength {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	return err == nil && len(decoded) == KeyLength
}

// GenerateWithHash creates a key and its hash
func GenerateWithHash() (key, hash string, err error) {
	key, err = Generate()
	if err != nil {
		return "", "", err
	}
	hash, err = Hash(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// Fingerprint is a short, non-secret identifier of a key for logs
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// Verifier checks presented keys against one stored hash. Keys that already
// verified are remembered by SHA-256 digest so Argon2 runs once per key.
type Verifier struct {
	hash string

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewVerifier returns a Verifier for a stored hash
func NewVerifier(hash string) *Verifier {
	return &Verifier{
		hash:     hash,
		verified: make(map[[sha256.Size]byte]struct{}),
	}
}

// Verify reports whether key is well formed and matches the hash
func (v *Verifier) Verify(key string) bool {
	if !ValidateFormat(key) {
		return false
	}

	digest := sha256.Sum256([]byte(key))
	v.mu.RLock()
	_, ok := v.verified[digest]
	v.mu.RUnlock()
	if ok {
		return true
	}

	if !Validate(key, v.hash) {
		return false
	}

	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return true
}
