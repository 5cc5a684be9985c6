package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrWeakPassword  = errors.New("password must be at least 8 characters and include upper, lower, and numeric characters")
	ErrEmptyPepper   = errors.New("password pepper must not be empty")
	ErrPasswordMatch = errors.New("password does not match")
)

const MinPasswordLength = 8

// PasswordHasher hashes passwords with bcrypt after keying them with a server
// side pepper. The HMAC step also keeps inputs under bcrypt's 72 byte limit.
type PasswordHasher struct {
	pepper []byte
	cost   int
}

func NewPasswordHasher(pepper string, cost int) (*PasswordHasher, error) {
	if pepper == "" {
		return nil, ErrEmptyPepper
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &PasswordHasher{pepper: []byte(pepper), cost: cost}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(h.peppered(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify returns nil when password matches hash and ErrPasswordMatch when it does not.
func (h *PasswordHasher) Verify(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMatch
	}
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

func (h *PasswordHasher) peppered(password string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	sum := mac.Sum(nil)

	out := make([]byte, base64.RawStdEncoding.EncodedLen(len(sum)))
	base64.RawStdEncoding.Encode(out, sum)
	return out
}

// ValidatePasswordRequirements enforces at least MinPasswordLength characters
// with an ASCII lowercase letter, an ASCII uppercase letter and a digit.
func ValidatePasswordRequirements(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return ErrWeakPassword
	}
	return nil
}
