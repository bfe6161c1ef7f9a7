package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCipherText = errors.New("crypto: invalid cipher text")
)

const tokenKeyInfo = "reviewd/github-token/v1"

// TokenCipher seals short secrets such as GitHub tokens with AES-256-GCM.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a 32-byte key from secret with HKDF-SHA256.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, ErrInvalidKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(tokenKeyInfo)), key); err != nil {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &TokenCipher{aead: gcm}, nil
}

// Seal encrypts plainText. The empty string seals to the empty string.
func (c *TokenCipher) Seal(plainText string) (string, error) {
	if plainText == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *TokenCipher) Open(cipherText string) (string, error) {
	if cipherText == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", ErrInvalidCipherText
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCipherText
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
