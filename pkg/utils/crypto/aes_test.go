package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipher(t *testing.T) {
	c, err := NewTokenCipher("s3cret-key-material")
	require.NoError(t, err)

	sealed, err := c.Seal("ghp_abcdef")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ghp_abcdef")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_abcdef", plain)

	empty, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTokenCipher_WrongKey(t *testing.T) {
	a, err := NewTokenCipher("key-a")
	require.NoError(t, err)
	b, err := NewTokenCipher("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal("token")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = a.Open("not base64!")
	assert.ErrorIs(t, err, ErrInvalidCipherText)

	_, err = NewTokenCipher("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
