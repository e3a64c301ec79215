package service

import "errors"

// Externally visible error kinds. Several internal causes collapse into a
// single kind on purpose: callers of the HTTP API must not be able to tell
// "no such user" from "wrong password", or a bad OTP from an expired one.
// The distinction is logged, never returned.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many failed login attempts")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInactiveAccount    = errors.New("account is not active")
	ErrOtpInvalid         = errors.New("invalid code")
	ErrResetInvalid       = errors.New("invalid or expired reset token")
)
