package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var ErrBlobTooShort = errors.New("utils: encrypted blob too short")

// Encryptor seals evidence payloads at rest with AES-256-GCM. The nonce is
// prepended to the ciphertext so a blob is self-contained.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptorFromString derives a 32-byte key from the configured secret.
// An empty secret is rejected so misconfiguration fails at startup, not on
// the first upload.
func NewEncryptorFromString(key string) (*Encryptor, error) {
	if key == "" {
		return nil, errors.New("utils: encryption key is empty")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("utils: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("utils: init gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) EncryptToBlob(plain []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("utils: nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plain, nil), nil
}

func (e *Encryptor) DecryptBlob(blob []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(blob) < ns {
		return nil, ErrBlobTooShort
	}
	plain, err := e.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("utils: decrypt: %w", err)
	}
	return plain, nil
}

func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
