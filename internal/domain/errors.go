package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidState  = errors.New("invalid state")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrAlreadyExists = errors.New("already exists")
)

// Wrap attaches a user-facing message to a sentinel. errors.Is still matches the sentinel.
func Wrap(sentinel error, msg string) error {
	return errors.WithMessage(sentinel, msg)
}
