package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Scheme tags the algorithm a stored password hash was produced with.
type Scheme string

const (
	// SchemePBKDF2 is the current scheme: random salt, configurable
	// iterations, stored as "iterations$salt$key" in hex.
	SchemePBKDF2 Scheme = "pbkdf2-sha256"
	// SchemeLegacyEmail salts with sha256(email) and a fixed iteration count.
	SchemeLegacyEmail Scheme = "pbkdf2-sha256-email"
	// SchemeBcrypt covers hashes imported from the forum deployment.
	SchemeBcrypt Scheme = "bcrypt"
)

const (
	MinIterations     = 100_000
	DefaultIterations = 600_000

	legacyIterations = 100_000
	legacyPrefix     = "pbkdf2:sha256:"
	saltLen          = 16
	keyLen           = 32
)

// Hash is a stored password hash together with its scheme.
type Hash struct {
	Scheme Scheme
	Value  string
}

type Hasher struct {
	iterations int
}

// NewHasher returns a hasher for the current scheme. Counts below
// MinIterations are raised to it.
func NewHasher(iterations int) *Hasher {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Hasher{iterations: iterations}
}

func (h *Hasher) Hash(password string) (Hash, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Hash{}, fmt.Errorf("reading salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, h.iterations, keyLen, sha256.New)
	return Hash{
		Scheme: SchemePBKDF2,
		Value:  fmt.Sprintf("%d$%s$%s", h.iterations, hex.EncodeToString(salt), hex.EncodeToString(key)),
	}, nil
}

// Verify checks password against stored. email is the account's email, the
// salt source of the legacy scheme.
func (h *Hasher) Verify(stored Hash, email, password string) (bool, error) {
	switch stored.Scheme {
	case SchemePBKDF2:
		iterations, salt, key, err := parsePBKDF2(stored.Value)
		if err != nil {
			return false, err
		}
		got := pbkdf2.Key([]byte(password), salt, iterations, len(key), sha256.New)
		return subtle.ConstantTimeCompare(got, key) == 1, nil
	case SchemeLegacyEmail:
		key, err := hex.DecodeString(strings.TrimPrefix(stored.Value, legacyPrefix))
		if err != nil {
			return false, fmt.Errorf("malformed legacy hash: %w", err)
		}
		salt := sha256.Sum256([]byte(email))
		got := pbkdf2.Key([]byte(password), salt[:], legacyIterations, sha256.Size, sha256.New)
		return subtle.ConstantTimeCompare(got, key) == 1, nil
	case SchemeBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(stored.Value), []byte(password))
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return err == nil, err
	default:
		return false, fmt.Errorf("unknown hash scheme %q", stored.Scheme)
	}
}

// NeedsRehash reports whether stored should be replaced by a fresh hash of
// the current scheme after a successful login.
func (h *Hasher) NeedsRehash(stored Hash) bool {
	if stored.Scheme != SchemePBKDF2 {
		return true
	}
	iterations, _, _, err := parsePBKDF2(stored.Value)
	return err != nil || iterations < h.iterations
}

// LegacyEmailHash produces a hash in the legacy email-salted format,
// "pbkdf2:sha256:" followed by the hex key. Only imports and tests need it.
func LegacyEmailHash(email, password string) Hash {
	salt := sha256.Sum256([]byte(email))
	key := pbkdf2.Key([]byte(password), salt[:], legacyIterations, sha256.Size, sha256.New)
	return Hash{Scheme: SchemeLegacyEmail, Value: legacyPrefix + hex.EncodeToString(key)}
}

func parsePBKDF2(value string) (int, []byte, []byte, error) {
	parts := strings.Split(value, "$")
	if len(parts) != 3 {
		return 0, nil, nil, fmt.Errorf("malformed %s hash", SchemePBKDF2)
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, fmt.Errorf("malformed %s iteration count", SchemePBKDF2)
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("malformed %s salt: %w", SchemePBKDF2, err)
	}
	key, err := hex.DecodeString(parts[2])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, fmt.Errorf("malformed %s key", SchemePBKDF2)
	}
	return iterations, salt, key, nil
}
