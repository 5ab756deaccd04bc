// Package store provides interfaces and types for postbox storage.
// Implementations are in store/memory, store/postgres, and store/mongo subpackages.
//
// # Architectural Principle: No Distributed Locks
//
// This package is designed to avoid distributed locks entirely. All
// concurrency concerns are handled through:
//
//  1. Atomic Database Operations: message ids are assigned inside the
//     insert itself (per-account sequence), never read-then-written by
//     the caller.
//
//  2. Idempotency via Unique Constraints: account addresses and message
//     (address, id) pairs are unique constraints. Duplicate inserts
//     surface as ErrAddressExists or are retried internally, not
//     prevented by external coordination.
//
//  3. Optimistic Concurrency: every mutable record carries a lastModified
//     version stamp (microseconds since epoch, strictly increasing per
//     record). Mutations are compare-and-swap on that stamp and report
//     *ConflictError when it is stale. Callers re-fetch and retry; they
//     never block waiting for another writer.
//
// Deleted messages are tombstones: payload fields are cleared, the id
// and lastModified survive so clients can synchronize deletions.
package store

import "context"

// Store is the storage interface for the postbox service.
//
// All operations must be safe for concurrent use. Implementations must
// use database-level atomicity (transactions, atomic operations) rather
// than external locking mechanisms. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Account operations - registration, credentials, key material
	AccountStore

	// Reservation operations - pre-provisioned address reservations
	ReservationStore

	// Message operations - append/patch/tombstone message records
	MessageStore

	// Profile operations - per-account key/value settings
	ProfileStore

	// Push operations - device push token registrations
	PushStore
}

// AccountStore provides operations on registered accounts.
type AccountStore interface {
	// CreateAccount inserts a new account with its key pairs.
	// Returns ErrAddressExists if the address is already registered.
	CreateAccount(ctx context.Context, account *Account, keys []KeyPair) error

	// GetAccount retrieves an account by address.
	// Returns ErrNotFound if no account exists for the address.
	GetAccount(ctx context.Context, address string) (*Account, error)

	// ResetCredentials replaces the account's login key hash, private data
	// key, and key pairs, and clears its reset code. Messages, profile
	// entries, and push registrations are untouched.
	// Returns ErrNotFound if no account exists for the address.
	ResetCredentials(ctx context.Context, address string, account *Account, keys []KeyPair) error

	// TouchLastLogin records a successful authentication.
	TouchLastLogin(ctx context.Context, address string) error

	// RegistrationCodeUsed reports whether any account was registered with
	// the given invite code.
	RegistrationCodeUsed(ctx context.Context, code string) (bool, error)

	// DeleteAccount removes an account and all its data. Administrative;
	// not reachable from the registration flow.
	// Returns ErrNotFound if no account exists for the address.
	DeleteAccount(ctx context.Context, address string) error
}

// ReservationStore provides operations on address reservations.
// A reservation is a pre-provisioned (address, code) pair that gates
// registration of that address.
type ReservationStore interface {
	// PutReservation stores or replaces the reservation for an address.
	PutReservation(ctx context.Context, address, code string) error

	// GetReservation returns the reservation code for an address.
	// Returns ErrNotFound if the address has no reservation.
	GetReservation(ctx context.Context, address string) (string, error)

	// DeleteReservation removes the reservation for an address. Removing
	// an absent reservation is not an error.
	DeleteReservation(ctx context.Context, address string) error
}

// MessageStore provides operations on per-account message records.
//
// Concurrency: CreateMessage assigns the per-account monotonic id
// atomically. UpdateMeta and DeleteMessage are compare-and-swap on
// lastModified and return *ConflictError (wrapping ErrConflict, carrying
// the current stamp) when the expected stamp is stale.
type MessageStore interface {
	// CreateMessage inserts a message, assigning the next id for the
	// account and a fresh lastModified stamp. Returns the stored message.
	CreateMessage(ctx context.Context, address string, data *MessageData) (*Message, error)

	// GetMessage retrieves a message by id. Tombstoned messages are
	// returned with Deleted=true and payload fields empty.
	// Returns ErrNotFound if the id does not exist for the account.
	GetMessage(ctx context.Context, address string, id uint32) (*Message, error)

	// ListMessages returns messages for the account in creation order
	// (ascending id), filtered and truncated per the filter. Total is the
	// match count before truncation.
	ListMessages(ctx context.Context, address string, filter ListFilter) (*MessageList, error)

	// UpdateMeta replaces the meta field if expectedLastModified matches
	// the current stamp, bumping lastModified strictly above its old value.
	// Returns *ConflictError on a stale stamp, ErrNotFound on unknown id.
	UpdateMeta(ctx context.Context, address string, id uint32, expectedLastModified uint64, meta []byte) (*MessageMeta, error)

	// DeleteMessage tombstones the message if expectedLastModified matches:
	// payload fields are cleared, Deleted is set, lastModified is bumped.
	// Same conflict contract as UpdateMeta. Tombstones are never removed.
	DeleteMessage(ctx context.Context, address string, id uint32, expectedLastModified uint64) (*MessageMeta, error)

	// GetAttachments returns the attachment blob, or the blob-store URI it
	// was offloaded to (at most one of the two is set). Returns ErrNotFound
	// if the message is absent, tombstoned, or has no attachments.
	GetAttachments(ctx context.Context, address string, id uint32) (data []byte, uri string, err error)
}

// ProfileStore provides operations on per-account profile entries.
// Entries share the message store's optimistic-concurrency contract.
type ProfileStore interface {
	// ListProfile returns the account's profile entries with
	// lastModified > modifiedAfter, ordered by key.
	ListProfile(ctx context.Context, address string, modifiedAfter uint64) ([]*ProfileEntry, error)

	// UpsertProfile sets a profile entry under CAS semantics: absent entry
	// with expectedLastModified == 0 inserts; absent entry with a nonzero
	// stamp returns ErrNotFound; present entry with a stale stamp returns
	// *ConflictError; otherwise the value is replaced and lastModified
	// bumped.
	UpsertProfile(ctx context.Context, address, key string, value []byte, expectedLastModified uint64) (*ProfileMeta, error)
}

// PushStore provides operations on push token registrations.
type PushStore interface {
	// RegisterPushToken registers a token for the account. Tokens sharing
	// the new token's instance id (prefix before the first colon) are
	// removed first, across all accounts. Re-registering an existing token
	// re-homes it to the given account and environment.
	RegisterPushToken(ctx context.Context, address string, token *PushToken) error

	// DeletePushToken removes a token owned by the account.
	// Returns ErrNotFound if the account does not own the token.
	DeletePushToken(ctx context.Context, address, registrationToken string) error

	// ListPushTokens returns the account's registered tokens.
	ListPushTokens(ctx context.Context, address string) ([]*PushToken, error)
}
