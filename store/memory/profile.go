package memory

import (
	"context"
	"sort"

	"github.com/rbaliyan/postbox/store"
)

// ListProfile returns profile entries with lastModified > modifiedAfter,
// ordered by key.
func (s *Store) ListProfile(ctx context.Context, address string, modifiedAfter uint64) ([]*store.ProfileEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	entries := make([]*store.ProfileEntry, 0, len(acc.profile))
	for _, e := range acc.profile {
		if modifiedAfter != 0 && e.LastModified <= modifiedAfter {
			continue
		}
		out := *e
		out.Value = append([]byte(nil), e.Value...)
		entries = append(entries, &out)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// UpsertProfile sets a profile entry under CAS semantics.
func (s *Store) UpsertProfile(ctx context.Context, address, key string, value []byte, expectedLastModified uint64) (*store.ProfileMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	e, exists := acc.profile[key]
	switch {
	case !exists && expectedLastModified != 0:
		return nil, store.ErrNotFound
	case !exists:
		e = &store.ProfileEntry{Key: key}
		acc.profile[key] = e
	case e.LastModified != expectedLastModified:
		return nil, &store.ConflictError{LastModified: e.LastModified}
	}

	e.Value = append([]byte(nil), value...)
	e.LastModified = acc.stamp()
	return &store.ProfileMeta{Key: key, LastModified: e.LastModified}, nil
}
