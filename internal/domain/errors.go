package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrToken is the parent of the activation token failures.
	ErrToken            = errors.New("activation token rejected")
	ErrTokenNotFound    = fmt.Errorf("%w: token not found", ErrToken)
	ErrTokenExpired     = fmt.Errorf("%w: token expired", ErrToken)
	ErrAlreadyActivated = fmt.Errorf("%w: already activated", ErrToken)

	ErrNotActivated              = errors.New("sender not activated")
	ErrClassificationUnavailable = errors.New("classification service unavailable")
	ErrPersistence               = errors.New("persistence failure")
	ErrNoTransactions            = errors.New("no transactions in period")
	ErrNotFound                  = errors.New("not found")
)

// ValidationError is a user-correctable problem with a transaction field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
