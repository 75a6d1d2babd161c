package utils

import (
	"crypto/rand"
	"time"
)

const randAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func NowUTC() time.Time {
	return time.Now().UTC()
}

// RandString returns n characters from a crypto-random source. Used for
// session IDs and CSRF tokens, so it must never fall back to math/rand.
func RandString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randAlphabet[int(b)%len(randAlphabet)]
	}
	return string(out), nil
}
