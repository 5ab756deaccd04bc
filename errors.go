package postbox

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/postbox/store"
)

// Sentinel errors for the postbox package.
// Use errors.Is() to check for these errors.
//
// Sentinels wrap corresponding store-level errors where applicable, so
// errors.Is(err, postbox.ErrNotFound) matches both postbox-level and
// store-level "not found" errors.
var (
	// ErrNotFound is returned when a message, account, profile entry,
	// or push token cannot be found.
	ErrNotFound = fmt.Errorf("postbox: %w", store.ErrNotFound)

	// ErrConflict is returned when an optimistic-concurrency check fails.
	// Use AsConflict to extract the current stamp.
	ErrConflict = fmt.Errorf("postbox: %w", store.ErrConflict)

	// ErrAddressExists is returned when registering an address that is
	// already taken.
	ErrAddressExists = fmt.Errorf("postbox: %w", store.ErrAddressExists)

	// ErrUnauthorized is returned for every authentication failure.
	// The cause is deliberately not distinguished.
	ErrUnauthorized = errors.New("postbox: unauthorized")

	// ErrInvalidInput is returned for request validation failures.
	ErrInvalidInput = errors.New("postbox: invalid input")

	// ErrChallengeRequired is returned when registration needs a
	// challenge answer. The wrapping ChallengeError carries the
	// challenge to present.
	ErrChallengeRequired = errors.New("postbox: challenge required")

	// ErrChallengeFailed is returned when a challenge answer or its
	// integrity tag does not verify.
	ErrChallengeFailed = errors.New("postbox: challenge failed")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("postbox: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("postbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("postbox: %w", store.ErrAlreadyConnected)

	// ErrAttachmentStoreNotConfigured is returned when an attachment blob
	// must be loaded but no attachment store is configured.
	ErrAttachmentStoreNotConfigured = errors.New("postbox: attachment store not configured")
)

// ConflictError reports the current state of an entry after a failed
// optimistic-concurrency check. Alias of the store type so backends and
// service share one error shape.
type ConflictError = store.ConflictError

// AsConflict extracts conflict details from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	return store.AsConflict(err)
}

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("postbox: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ChallengeError carries a registration challenge back to the caller.
// It is returned both when a challenge is first required and when an
// answer fails verification; the wrapped sentinel tells them apart.
type ChallengeError struct {
	// Challenge is the challenge the client must answer.
	Challenge *Challenge
	// Auth is the integrity tag the client must echo back unchanged.
	Auth string

	reason error
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("%v: %s challenge for %s", e.reason, e.Challenge.Type, e.Challenge.User)
}

func (e *ChallengeError) Unwrap() error {
	return e.reason
}

// AsChallenge extracts challenge details from an error chain.
func AsChallenge(err error) (*ChallengeError, bool) {
	var ce *ChallengeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// EventPublishError is returned when event publishing fails but the
// operation itself succeeded.
type EventPublishError struct {
	Event string
	Err   error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("postbox: event %s publish failed: %v", e.Event, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}
