package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/postbox/store"
)

// CreateAccount inserts a new account with its key pairs.
func (s *Store) CreateAccount(ctx context.Context, data *store.Account, keys []store.KeyPair) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	acc := &account{
		data:    *data,
		keys:    append([]store.KeyPair(nil), keys...),
		profile: make(map[string]*store.ProfileEntry),
	}
	if acc.data.CreatedAt.IsZero() {
		acc.data.CreatedAt = time.Now().UTC()
	}

	// LoadOrStore makes concurrent registration of the same address a
	// single winner without locking.
	if _, loaded := s.accounts.LoadOrStore(data.Address, acc); loaded {
		return store.ErrAddressExists
	}
	return nil
}

// GetAccount retrieves an account by address.
func (s *Store) GetAccount(ctx context.Context, address string) (*store.Account, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	data := acc.data
	return &data, nil
}

// ResetCredentials replaces credentials and key material in place.
// Messages and profile entries survive.
func (s *Store) ResetCredentials(ctx context.Context, address string, data *store.Account, keys []store.KeyPair) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.data.LoginKeyHash = data.LoginKeyHash
	acc.data.PrivateDataKey = data.PrivateDataKey
	if data.AcceptedTerms != "" {
		acc.data.AcceptedTerms = data.AcceptedTerms
	}
	acc.data.ResetCode = ""
	acc.keys = append([]store.KeyPair(nil), keys...)
	return nil
}

// TouchLastLogin records a successful authentication.
func (s *Store) TouchLastLogin(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.data.LastLogin = time.Now().UTC()
	return nil
}

// RegistrationCodeUsed reports whether any account consumed the invite code.
func (s *Store) RegistrationCodeUsed(ctx context.Context, code string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	used := false
	s.accounts.Range(func(_, v any) bool {
		acc := v.(*account)
		acc.mu.Lock()
		match := acc.data.RegistrationCode == code
		acc.mu.Unlock()
		if match {
			used = true
			return false
		}
		return true
	})
	return used, nil
}

// DeleteAccount removes an account and its push registrations.
func (s *Store) DeleteAccount(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, ok := s.getAccount(address); !ok {
		return store.ErrNotFound
	}
	s.accounts.Delete(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	for token, rec := range s.push {
		if rec.owner == address {
			delete(s.push, token)
		}
	}
	return nil
}

// PutReservation stores or replaces the reservation for an address.
func (s *Store) PutReservation(ctx context.Context, address, code string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[address] = code
	return nil
}

// GetReservation returns the reservation code for an address.
func (s *Store) GetReservation(ctx context.Context, address string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.reservations[address]
	if !ok {
		return "", store.ErrNotFound
	}
	return code, nil
}

// DeleteReservation removes the reservation for an address.
func (s *Store) DeleteReservation(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, address)
	return nil
}
