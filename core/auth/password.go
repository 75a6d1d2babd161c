package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters are fixed app-wide; changing them invalidates stored
// hashes, so treat them as part of the storage format.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

type PasswordHash struct {
	Hash string
	Salt string
}

func HashPassword(password, pepper string) (PasswordHash, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, fmt.Errorf("auth: salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password+pepper), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return PasswordHash{
		Hash: base64.RawStdEncoding.EncodeToString(sum),
		Salt: base64.RawStdEncoding.EncodeToString(salt),
	}, nil
}

func MustHashPassword(password, pepper string) PasswordHash {
	ph, err := HashPassword(password, pepper)
	if err != nil {
		panic(err)
	}
	return ph
}

func ParsePasswordHash(hash, salt string) (PasswordHash, error) {
	if hash == "" || salt == "" {
		return PasswordHash{}, errors.New("auth: empty password hash")
	}
	return PasswordHash{Hash: hash, Salt: salt}, nil
}

func VerifyPassword(password, pepper string, ph PasswordHash) (bool, error) {
	salt, err := base64.RawStdEncoding.DecodeString(ph.Salt)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(ph.Hash)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password+pepper), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// GenerateCSRF derives a per-session CSRF token from the server key, so the
// token survives restarts without storing extra state.
func GenerateCSRF(key, sessionID string) (string, error) {
	if key == "" {
		return "", errors.New("auth: empty csrf key")
	}
	m := hmac.New(sha256.New, []byte(key))
	if _, err := m.Write([]byte(sessionID)); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil)), nil
}
