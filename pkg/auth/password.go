package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 12

var (
	ErrPasswordTooShort      = errors.New("password must be at least 12 characters")
	ErrPasswordMissingUpper  = errors.New("password must contain an uppercase letter")
	ErrPasswordMissingLower  = errors.New("password must contain a lowercase letter")
	ErrPasswordMissingDigit  = errors.New("password must contain a digit")
	ErrPasswordMissingSymbol = errors.New("password must contain a special character")
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	if !IsHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsHash reports whether stored looks like a bcrypt hash.
func IsHash(stored string) bool {
	if len(stored) != 60 {
		return false
	}
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// MatchStoredCredential compares a supplied secret against a stored
// credential that is either a bcrypt hash or a plain value. Plain values must
// match exactly: no trimming, no case folding.
func MatchStoredCredential(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// ValidatePassword enforces the policy for newly provisioned accounts.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return ErrPasswordMissingUpper
	case !lower:
		return ErrPasswordMissingLower
	case !digit:
		return ErrPasswordMissingDigit
	case !symbol:
		return ErrPasswordMissingSymbol
	}
	return nil
}
