package auth

import (
	"errors"
	"fmt"

	"tablestack.io/internal/scope"
)

var (
	// ErrRejected is the uniform credential-verification failure. The reason
	// (unknown principal, wrong secret, revoked device, demo disabled) is
	// withheld from callers so the shapes are indistinguishable.
	ErrRejected = errors.New("auth: credentials rejected")

	// ErrUnauthenticated covers missing, malformed, or expired tokens.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden means a valid token lacks the required scope.
	ErrForbidden = errors.New("auth: forbidden")
)

// ForbiddenError carries the missing scope so the response can name it.
type ForbiddenError struct {
	MissingScope scope.Scope
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("auth: forbidden: missing scope %s", e.MissingScope)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }
