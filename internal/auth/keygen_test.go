package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_RoundTripsThroughParse(t *testing.T) {
	parts, err := GenerateKey("sk", "recon", "v1")
	require.NoError(t, err)

	parsed, err := ParseKey(parts.FullKey)
	require.NoError(t, err)

	assert.Equal(t, parts.KeyType, parsed.KeyType)
	assert.Equal(t, parts.Service, parsed.Service)
	assert.Equal(t, parts.Version, parsed.Version)
	assert.Equal(t, parts.ShortToken, parsed.ShortToken)
	assert.Equal(t, parts.LongSecret, parsed.LongSecret)
}

func TestGenerateKey_ShortTokenIsDerivedFromLongSecret(t *testing.T) {
	parts, err := GenerateKey("sk", "recon", "v1")
	require.NoError(t, err)

	reDerived, err := ParseKey(parts.FullKey)
	require.NoError(t, err)
	assert.Equal(t, hashSecret(reDerived.LongSecret)[:12], reDerived.ShortToken)
}

func TestParseKey_RejectsMalformedInput(t *testing.T) {
	_, err := ParseKey("not-enough-parts")
	require.Error(t, err)
}

func TestDisplay_NeverLeaksLongSecret(t *testing.T) {
	parts, err := GenerateKey("sk", "recon", "v1")
	require.NoError(t, err)

	display := parts.Display()
	assert.NotContains(t, display, parts.LongSecret)
	assert.Contains(t, display, parts.ShortToken)
}
