package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"tradepost.app/internal/apperr"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordCost is the bcrypt work factor used for new hashes. Tests lower it.
var PasswordCost = bcrypt.DefaultCost

// ErrPasswordMismatch is returned when a password does not match its hash.
var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	switch {
	case password == "":
		return "", fmt.Errorf("%w: password is empty", apperr.ErrValidation)
	case len(password) > MaxPasswordBytes:
		return "", fmt.Errorf("%w: password exceeds %d bytes", apperr.ErrValidation, MaxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports ErrPasswordMismatch when password does not match
// hash. Accounts without a stored hash never match.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
