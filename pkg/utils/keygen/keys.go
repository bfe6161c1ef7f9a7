package keygen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// NewTaskID returns a random UUID v4 used as a task identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// IsTaskID reports whether s parses as a UUID.
func IsTaskID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// GenerateEncryptionKey returns size random bytes, base64 encoded, suitable
// for security.encryption_key.
func GenerateEncryptionKey(size int) (string, error) {
	if size < 16 {
		return "", fmt.Errorf("key size must be at least 16 bytes, got %d", size)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
