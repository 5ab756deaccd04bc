package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rbaliyan/postbox/store"
)

// ListProfile returns profile entries with lastModified > modifiedAfter,
// ordered by key.
func (s *Store) ListProfile(ctx context.Context, address string, modifiedAfter uint64) ([]*store.ProfileEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT key, value, last_modified FROM %s
		WHERE address = $1 AND last_modified > $2
		ORDER BY key ASC
	`, s.table("profile"))

	rows, err := s.db.QueryContext(ctx, query, address, modifiedAfter)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer rows.Close()

	var entries []*store.ProfileEntry
	for rows.Next() {
		var e store.ProfileEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.LastModified); err != nil {
			return nil, fmt.Errorf("scan profile entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile: %w", err)
	}
	return entries, nil
}

// UpsertProfile sets a profile entry under CAS semantics.
func (s *Store) UpsertProfile(ctx context.Context, address, key string, value []byte, expectedLastModified uint64) (*store.ProfileMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var (
		m   store.ProfileMeta
		err error
	)
	if expectedLastModified == 0 {
		// Insert-only: an existing row means the caller's stamp is stale.
		insert := fmt.Sprintf(`
			INSERT INTO %s (address, key, value, last_modified)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address, key) DO NOTHING
			RETURNING key, last_modified
		`, s.table("profile"))
		err = s.db.QueryRowContext(ctx, insert, address, key, value, nowMicros()).
			Scan(&m.Key, &m.LastModified)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, s.profileConflict(ctx, address, key)
			}
			if isPQError(err, pqForeignKeyViolation) {
				return nil, store.ErrNotFound
			}
			return nil, fmt.Errorf("insert profile entry: %w", err)
		}
		return &m, nil
	}

	update := fmt.Sprintf(`
		UPDATE %s
		SET value = $1, last_modified = GREATEST($2, last_modified + 1)
		WHERE address = $3 AND key = $4 AND last_modified = $5
		RETURNING key, last_modified
	`, s.table("profile"))
	err = s.db.QueryRowContext(ctx, update, value, nowMicros(), address, key, expectedLastModified).
		Scan(&m.Key, &m.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.profileCASFailure(ctx, address, key)
		}
		return nil, fmt.Errorf("update profile entry: %w", err)
	}
	return &m, nil
}

func (s *Store) profileCASFailure(ctx context.Context, address, key string) error {
	query := fmt.Sprintf(`
		SELECT last_modified FROM %s WHERE address = $1 AND key = $2
	`, s.table("profile"))

	var current uint64
	err := s.db.QueryRowContext(ctx, query, address, key).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("profile cas lookup: %w", err)
	}
	return &store.ConflictError{LastModified: current}
}

func (s *Store) profileConflict(ctx context.Context, address, key string) error {
	err := s.profileCASFailure(ctx, address, key)
	if store.IsNotFound(err) {
		// Row vanished between insert and lookup; report as conflict so the
		// caller re-fetches.
		return &store.ConflictError{}
	}
	return err
}
