package service

import (
	"errors"
	"fmt"
)

var (
	ErrConflict      = errors.New("conflict")
	ErrUsernameTaken = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrEmailTaken    = fmt.Errorf("%w: email already exists", ErrConflict)

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenNotFound      = errors.New("refresh token not found")
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrUserNotFound       = errors.New("user not found")
)

// ValidationError carries the first failing format check. Reason is safe to
// show to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}
