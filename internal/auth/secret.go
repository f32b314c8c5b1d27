package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// SecretChecker compares presented admin secrets against a bcrypt hash.
type SecretChecker struct {
	hash []byte
}

// NewSecretChecker validates bcryptHash and returns a checker for it.
func NewSecretChecker(bcryptHash string) (*SecretChecker, error) {
	if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
		return nil, fmt.Errorf("parse admin secret hash: %w", err)
	}
	return &SecretChecker{hash: []byte(bcryptHash)}, nil
}

// Check reports whether secret matches the configured hash.
func (s *SecretChecker) Check(secret string) bool {
	return bcrypt.CompareHashAndPassword(s.hash, []byte(secret)) == nil
}

// HashSecret returns the bcrypt hash of secret for use as auth.admin_secret_hash.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}
