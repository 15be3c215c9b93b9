// Package authtoken hashes and verifies the opaque API tokens an operator
// may associate with a deckstore user_id when layering auth in front of
// this service (auth itself is out of scope, spec.md §1). Grounded on the
// teacher's internal/storage/encryption.go convention of a small,
// single-purpose crypto helper file alongside the storage package it
// serves, using bcrypt instead of the teacher's Argon2id since a token
// hash here has no decrypt side — only a one-way compare.
package authtoken

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost mirrors bcrypt's own recommended default.
const DefaultCost = bcrypt.DefaultCost

// Generate returns a new random opaque token, base64url-encoded.
func Generate() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Hash returns the bcrypt hash of token, suitable for storing in place of
// the token itself.
func Hash(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether token matches the previously stored hash.
func Verify(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
