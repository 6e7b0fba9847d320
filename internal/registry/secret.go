package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	DefaultKeyPrefix   = "dandi"
	DefaultSecretBytes = 24
	minSecretBytes     = 16
)

// SecretGenerator produces a fresh secret for a key of the given type.
type SecretGenerator func(keyType string) (string, error)

// NewSecretGenerator returns a generator producing
// "<prefix>-<type>-<hex of n random bytes>" from crypto/rand.
func NewSecretGenerator(prefix string, n int) SecretGenerator {
	return newSecretGenerator(rand.Reader, prefix, n)
}

func newSecretGenerator(r io.Reader, prefix string, n int) SecretGenerator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if n < minSecretBytes {
		n = minSecretBytes
	}
	return func(keyType string) (string, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		return prefix + "-" + keyType + "-" + hex.EncodeToString(buf), nil
	}
}
