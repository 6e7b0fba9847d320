package registry

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretGenerator_Format(t *testing.T) {
	gen := NewSecretGenerator("dandi", 24)

	secret, err := gen("production")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^dandi-production-[0-9a-f]{48}$`)
	assert.Regexp(t, pattern, secret)
}

func TestSecretGenerator_Deterministic(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))
	gen := newSecretGenerator(src, "acme", 16)

	secret, err := gen("development")
	require.NoError(t, err)
	assert.Equal(t, "acme-development-"+strings.Repeat("ab", 16), secret)
}

func TestSecretGenerator_Defaults(t *testing.T) {
	gen := NewSecretGenerator("", 4)

	secret, err := gen("development")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, DefaultKeyPrefix+"-development-"))
	assert.Len(t, strings.TrimPrefix(secret, DefaultKeyPrefix+"-development-"), 2*minSecretBytes)
}

func TestSecretGenerator_ShortRead(t *testing.T) {
	gen := newSecretGenerator(bytes.NewReader([]byte{1, 2, 3}), "dandi", 16)

	_, err := gen("development")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read random bytes")
}

func TestSecretGenerator_NoRepeats(t *testing.T) {
	gen := NewSecretGenerator("dandi", 16)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s, err := gen("development")
		require.NoError(t, err)
		require.False(t, seen[s])
		seen[s] = true
	}
}

func TestValidationError(t *testing.T) {
	err := invalid("name", "name is required")

	assert.Equal(t, "name: name is required", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrNotFound)
}
