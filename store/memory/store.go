// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/postbox/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	accounts  sync.Map // map[string]*account
	connected int32

	mu           sync.Mutex // guards reservations and push
	reservations map[string]string
	push         map[string]*pushRecord // registration token -> record
}

// Compile-time check
var _ store.Store = (*Store)(nil)

// account is the per-address record set. Each account carries its own
// mutex so writers to different accounts never contend.
type account struct {
	mu       sync.Mutex
	data     store.Account
	keys     []store.KeyPair
	messages []*message
	profile  map[string]*store.ProfileEntry

	// lastStamp is the floor for the next lastModified stamp, keeping
	// stamps strictly increasing even when the clock stalls.
	lastStamp uint64
	nextID    uint32
}

type message struct {
	store.Message
	attachments    []byte
	attachmentsURI string
}

type pushRecord struct {
	owner string
	token store.PushToken
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		reservations: make(map[string]string),
		push:         make(map[string]*pushRecord),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// getAccount loads the record set for an address.
func (s *Store) getAccount(address string) (*account, bool) {
	v, ok := s.accounts.Load(address)
	if !ok {
		return nil, false
	}
	return v.(*account), true
}

// stamp returns the next lastModified value for the account.
// Caller must hold acc.mu.
func (acc *account) stamp() uint64 {
	now := uint64(time.Now().UnixMicro())
	if now <= acc.lastStamp {
		now = acc.lastStamp + 1
	}
	acc.lastStamp = now
	return now
}
