// Package errs holds the sentinel errors shared across package boundaries.
package errs

import "errors"

var (
	// ErrClosed means the session or stream was torn down; retrying the
	// operation on the same handle will never succeed.
	ErrClosed = errors.New("session closed")

	// ErrUnauthorized means the caller's token failed validation.
	ErrUnauthorized = errors.New("unauthorized")
)
