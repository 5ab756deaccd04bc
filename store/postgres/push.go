package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rbaliyan/postbox/store"
)

// RegisterPushToken registers a token, superseding tokens that share its
// instance id regardless of owning account.
func (s *Store) RegisterPushToken(ctx context.Context, address string, token *store.PushToken) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		// split_part(token, ':', 1) mirrors store.InstanceID.
		del := fmt.Sprintf(`
			DELETE FROM %s WHERE split_part(token, ':', 1) = $1
		`, s.table("push_tokens"))
		iid := store.InstanceID(token.RegistrationToken)
		if _, err := tx.ExecContext(ctx, del, iid); err != nil {
			return fmt.Errorf("supersede push tokens: %w", err)
		}

		insert := fmt.Sprintf(`
			INSERT INTO %s (token, address, environment) VALUES ($1, $2, $3)
		`, s.table("push_tokens"))
		if _, err := tx.ExecContext(ctx, insert, token.RegistrationToken, address, token.Environment); err != nil {
			if isPQError(err, pqForeignKeyViolation) {
				return store.ErrNotFound
			}
			return fmt.Errorf("insert push token: %w", err)
		}
		return nil
	})
}

// DeletePushToken removes a token owned by the account.
func (s *Store) DeletePushToken(ctx context.Context, address, registrationToken string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	del := fmt.Sprintf(`
		DELETE FROM %s WHERE token = $1 AND address = $2
	`, s.table("push_tokens"))

	result, err := s.db.ExecContext(ctx, del, registrationToken, address)
	if err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListPushTokens returns the account's registered tokens.
func (s *Store) ListPushTokens(ctx context.Context, address string) ([]*store.PushToken, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT token, environment FROM %s WHERE address = $1 ORDER BY token ASC
	`, s.table("push_tokens"))

	rows, err := s.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*store.PushToken
	for rows.Next() {
		var t store.PushToken
		if err := rows.Scan(&t.RegistrationToken, &t.Environment); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}
	return tokens, nil
}
