// Package id generates short random identifiers for request correlation.
package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	DefaultLength = 12

	// PrefixRequest marks ids minted by the admin API for X-Request-ID.
	PrefixRequest = "req"

	maxExternalLength = 64
)

// generate returns a base62 string of the given length from crypto/rand.
func generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}

	result := make([]byte, length)
	alphabetLen := big.NewInt(int64(len(alphabet)))
	for i := range result {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result), nil
}

// NewRequestID mints a request id; it never fails, falling back to a fixed
// marker if the system randomness source is broken.
func NewRequestID() string {
	s, err := generate(DefaultLength)
	if err != nil {
		return PrefixRequest + "_unavailable"
	}
	return PrefixRequest + "_" + s
}

// IsValidExternal reports whether a caller supplied id is safe to echo back
// and log: 1..64 characters from [A-Za-z0-9_-].
func IsValidExternal(s string) bool {
	if s == "" || len(s) > maxExternalLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
