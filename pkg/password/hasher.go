package password

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Hasher defines the interface for password hashing implementations. The
// digest is deterministic for a given (password, salt) pair so stored digests
// can be compared without a separate verify step.
type Hasher interface {
	// Salt generates a new random salt.
	Salt() (string, error)

	// Hash derives the digest for a password under the given salt.
	Hash(password, salt string) string
}

const (
	defaultIterations = 210000
	defaultKeyLength  = 32
	saltLength        = 16
)

// Pbkdf2Hasher implements Hasher using PBKDF2 with SHA-256.
type Pbkdf2Hasher struct {
	iterations int
	keyLength  int
}

// NewPbkdf2Hasher creates a hasher with the default work factor.
func NewPbkdf2Hasher() *Pbkdf2Hasher {
	return &Pbkdf2Hasher{
		iterations: defaultIterations,
		keyLength:  defaultKeyLength,
	}
}

// Salt generates a new random salt.
func (h *Pbkdf2Hasher) Salt() (string, error) {
	buf := make([]byte, saltLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Hash derives the PBKDF2 digest for a password under the given salt.
func (h *Pbkdf2Hasher) Hash(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), h.iterations, h.keyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}
