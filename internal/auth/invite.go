// Package auth guards campaign rooms with bcrypt-hashed invite codes.
// A campaign with no stored hash is open: anyone who knows its ID may join.
// This is room access control only, not user identity.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Invite codes are shared out-of-band (the DM pastes one into chat), so they
// stay short. bcrypt itself caps input at 72 bytes.
const (
	minCodeLen  = 4
	maxCodeLen  = 64
	mintedBytes = 9
)

var (
	// ErrInvalidCode is returned when a code fails format validation.
	ErrInvalidCode = errors.New("auth: invite code must be 4-64 characters")
	// ErrCodeMismatch is returned when a presented code does not match the
	// campaign's stored hash.
	ErrCodeMismatch = errors.New("auth: invite code does not match")
)

// NewInviteCode mints a random URL-safe code suitable for sharing.
func NewInviteCode() string {
	buf := make([]byte, mintedBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// HashInviteCode validates and hashes a code for storage on the campaign
// record.
func HashInviteCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", ErrInvalidCode
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyInviteCode checks a presented code against a campaign's stored hash.
// An empty hash means the campaign is open and every code (including none)
// passes.
func VerifyInviteCode(hash, code string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))); err != nil {
		return ErrCodeMismatch
	}
	return nil
}
