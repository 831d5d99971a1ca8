package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingServiceToken = errors.New("service token not provided")
	ErrInvalidServiceToken = errors.New("invalid service token")
)

// ValidateServiceToken compares token against expected in constant time.
func ValidateServiceToken(token, expected string) error {
	if token == "" {
		return ErrMissingServiceToken
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrInvalidServiceToken
	}
	return nil
}
