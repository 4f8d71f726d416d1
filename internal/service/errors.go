package service

import (
	"errors"
	"fmt"
	"time"

	"profscore/api/internal/security"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrEmailNotVerified     = errors.New("email address not verified")
	ErrRoleMismatch         = errors.New("account role mismatch")
	ErrUsernameTaken        = errors.New("username already registered")
	ErrEmailTaken           = errors.New("email already registered")
	ErrRegistrationInFlight = errors.New("registration already in progress")
	ErrHumanVerification    = errors.New("human verification failed")
	ErrInvalidToken         = errors.New("invalid token")
	ErrExpiredToken         = errors.New("expired token")
)

// ValidationError carries a message that is safe to show to the client.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func invalidInput(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// LockoutError reports a temporarily locked identity and how long until the
// oldest qualifying failure ages out of the window.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %ds", e.RetryAfterSeconds())
}

func (e *LockoutError) RetryAfterSeconds() int {
	return int(e.RetryAfter.Seconds())
}

// WeakPasswordError carries the strength rubric's feedback.
type WeakPasswordError struct {
	Strength security.PasswordStrength
}

func (e *WeakPasswordError) Error() string {
	return "password too weak"
}
