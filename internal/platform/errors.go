package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the credential does not carry a logged-in session.
	ErrUnauthorized = errors.New("session is not authorized")
	// ErrInvalidCredential means the credential could not be decoded.
	ErrInvalidCredential = errors.New("invalid session credential")
	// ErrUnsupportedSource means a harvest source is not a readable chat.
	ErrUnsupportedSource = errors.New("unsupported source")
)

// Fatal marks an error as fatal to the session: the session cannot do any
// further work until an operator replaces its credential.
//
// Example:
//
//	return platform.Fatal(fmt.Errorf("join: %w", err))
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err is wrapped with Fatal.
func IsFatal(err error) bool {
	var e fatalError
	return errors.As(err, &e)
}

type fatalError struct{ err error }

func (e fatalError) Error() string { return fmt.Sprintf("session fatal: %v", e.err) }
func (e fatalError) Unwrap() error { return e.err }
