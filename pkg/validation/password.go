package validation

import (
	"errors"
	"unicode"
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 10 characters")
	ErrMissingUppercase = errors.New("password must contain at least one uppercase letter")
	ErrMissingLowercase = errors.New("password must contain at least one lowercase letter")
	ErrMissingDigit     = errors.New("password must contain at least one digit")
	ErrMissingSymbol    = errors.New("password must contain at least one symbol")
)

const minPasswordLength = 10

// ValidatePassword enforces the strength policy applied at the password
// reset boundary.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	switch {
	case !hasUpper:
		return ErrMissingUppercase
	case !hasLower:
		return ErrMissingLowercase
	case !hasDigit:
		return ErrMissingDigit
	case !hasSymbol:
		return ErrMissingSymbol
	}
	return nil
}
