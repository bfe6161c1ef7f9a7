package keygen

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskID(t *testing.T) {
	a, b := NewTaskID(), NewTaskID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsTaskID(a))
	assert.False(t, IsTaskID("not-a-task"))
}

func TestGenerateEncryptionKey(t *testing.T) {
	key, err := GenerateEncryptionKey(32)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	_, err = GenerateEncryptionKey(8)
	assert.Error(t, err)
}
