package memory

import (
	"context"
	"sort"

	"github.com/rbaliyan/postbox/store"
)

// RegisterPushToken registers a token, superseding tokens that share its
// instance id regardless of which account registered them.
func (s *Store) RegisterPushToken(ctx context.Context, address string, token *store.PushToken) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	iid := store.InstanceID(token.RegistrationToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	for t := range s.push {
		if store.InstanceID(t) == iid {
			delete(s.push, t)
		}
	}
	s.push[token.RegistrationToken] = &pushRecord{owner: address, token: *token}
	return nil
}

// DeletePushToken removes a token owned by the account.
func (s *Store) DeletePushToken(ctx context.Context, address, registrationToken string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.push[registrationToken]
	if !ok || rec.owner != address {
		return store.ErrNotFound
	}
	delete(s.push, registrationToken)
	return nil
}

// ListPushTokens returns the account's registered tokens.
func (s *Store) ListPushTokens(ctx context.Context, address string) ([]*store.PushToken, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []*store.PushToken
	for _, rec := range s.push {
		if rec.owner == address {
			t := rec.token
			tokens = append(tokens, &t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].RegistrationToken < tokens[j].RegistrationToken
	})
	return tokens, nil
}
