package keygen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestSecretFromMnemonic(t *testing.T) {
	a, err := secretFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	b, err := secretFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.False(t, a.IsZero())

	c, err := secretFromMnemonic(testMnemonic, "TREZOR")
	require.NoError(t, err)
	assert.False(t, a.Equal(c))

	_, err = secretFromMnemonic("abandon abandon abandon", "")
	assert.Error(t, err)
}

func TestGenerateMnemonic(t *testing.T) {
	a, err := generateMnemonic()
	require.NoError(t, err)
	b, err := generateMnemonic()
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}
