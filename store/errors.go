package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a record cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a compare-and-swap mutation carries a
	// stale lastModified stamp. Usually wrapped in a *ConflictError that
	// carries the current stamp.
	ErrConflict = errors.New("store: conflict")

	// ErrAddressExists is returned when creating an account whose address
	// is already registered.
	ErrAddressExists = errors.New("store: address exists")

	// ErrInvalidID is returned when an invalid record id is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes
	// were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// ConflictError reports a failed compare-and-swap mutation. It carries the
// record's current stamp so callers can surface it without a second read.
// Matches ErrConflict via errors.Is.
type ConflictError struct {
	ID           uint32
	LastModified uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: conflict on id %d (current lastModified %d)", e.ID, e.LastModified)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsAddressExists(err error) bool {
	return errors.Is(err, ErrAddressExists)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// AsConflict extracts the conflict details from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
