package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordAlphabet      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	DefaultPasswordLength = 12
)

// GeneratePassword returns a random temporary password of the given length.
// A length below 1 falls back to DefaultPasswordLength.
func GeneratePassword(length int) (string, error) {
	if length < 1 {
		length = DefaultPasswordLength
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
