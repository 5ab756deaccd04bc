package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rbaliyan/postbox/store"
)

// CreateAccount inserts a new account with its key pairs.
func (s *Store) CreateAccount(ctx context.Context, account *store.Account, keys []store.KeyPair) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		insert := fmt.Sprintf(`
			INSERT INTO %s (address, login_key_hash, private_data_key, accepted_terms,
			                reset_code, registration_code, language)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, s.table("accounts"))

		_, err := tx.ExecContext(ctx, insert,
			account.Address, account.LoginKeyHash, account.PrivateDataKey,
			account.AcceptedTerms, account.ResetCode, account.RegistrationCode,
			account.Language,
		)
		if err != nil {
			if isPQError(err, pqUniqueViolation) {
				return store.ErrAddressExists
			}
			return fmt.Errorf("insert account: %w", err)
		}

		return s.insertKeys(ctx, tx, account.Address, keys)
	})
}

func (s *Store) insertKeys(ctx context.Context, tx *sqlx.Tx, address string, keys []store.KeyPair) error {
	insert := fmt.Sprintf(`
		INSERT INTO %s (address, type, pubkey, privkey, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.table("account_keys"))

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, insert,
			address, k.Type, k.Pubkey, k.Privkey, k.ValidFrom, k.ValidUntil,
		); err != nil {
			return fmt.Errorf("insert key pair: %w", err)
		}
	}
	return nil
}

// GetAccount retrieves an account by address.
func (s *Store) GetAccount(ctx context.Context, address string) (*store.Account, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT address, login_key_hash, private_data_key, accepted_terms,
		       reset_code, registration_code, language, created_at, last_login
		FROM %s WHERE address = $1
	`, s.table("accounts"))

	var (
		acc       store.Account
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&acc.Address, &acc.LoginKeyHash, &acc.PrivateDataKey, &acc.AcceptedTerms,
		&acc.ResetCode, &acc.RegistrationCode, &acc.Language, &acc.CreatedAt, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if lastLogin.Valid {
		acc.LastLogin = lastLogin.Time
	}
	return &acc, nil
}

// ResetCredentials replaces credentials and key material in place.
func (s *Store) ResetCredentials(ctx context.Context, address string, account *store.Account, keys []store.KeyPair) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		update := fmt.Sprintf(`
			UPDATE %s
			SET login_key_hash = $1, private_data_key = $2, reset_code = '',
			    accepted_terms = CASE WHEN $3 <> '' THEN $3 ELSE accepted_terms END
			WHERE address = $4
		`, s.table("accounts"))

		result, err := tx.ExecContext(ctx, update,
			account.LoginKeyHash, account.PrivateDataKey, account.AcceptedTerms, address)
		if err != nil {
			return fmt.Errorf("reset credentials: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return store.ErrNotFound
		}

		del := fmt.Sprintf(`DELETE FROM %s WHERE address = $1`, s.table("account_keys"))
		if _, err := tx.ExecContext(ctx, del, address); err != nil {
			return fmt.Errorf("delete key pairs: %w", err)
		}

		return s.insertKeys(ctx, tx, address, keys)
	})
}

// TouchLastLogin records a successful authentication.
func (s *Store) TouchLastLogin(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := fmt.Sprintf(`UPDATE %s SET last_login = $1 WHERE address = $2`, s.table("accounts"))
	result, err := s.db.ExecContext(ctx, update, time.Now().UTC(), address)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
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

// RegistrationCodeUsed reports whether any account consumed the invite code.
func (s *Store) RegistrationCodeUsed(ctx context.Context, code string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s WHERE registration_code = $1 AND registration_code <> '')
	`, s.table("accounts"))

	var used bool
	if err := s.db.QueryRowContext(ctx, query, code).Scan(&used); err != nil {
		return false, fmt.Errorf("registration code lookup: %w", err)
	}
	return used, nil
}

// DeleteAccount removes an account. Dependent rows cascade.
func (s *Store) DeleteAccount(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	del := fmt.Sprintf(`DELETE FROM %s WHERE address = $1`, s.table("accounts"))
	result, err := s.db.ExecContext(ctx, del, address)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
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

// PutReservation stores or replaces the reservation for an address.
func (s *Store) PutReservation(ctx context.Context, address, code string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	upsert := fmt.Sprintf(`
		INSERT INTO %s (address, code) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET code = EXCLUDED.code
	`, s.table("reservations"))

	if _, err := s.db.ExecContext(ctx, upsert, address, code); err != nil {
		return fmt.Errorf("put reservation: %w", err)
	}
	return nil
}

// GetReservation returns the reservation code for an address.
func (s *Store) GetReservation(ctx context.Context, address string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT code FROM %s WHERE address = $1`, s.table("reservations"))

	var code string
	err := s.db.QueryRowContext(ctx, query, address).Scan(&code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("get reservation: %w", err)
	}
	return code, nil
}

// DeleteReservation removes the reservation for an address.
func (s *Store) DeleteReservation(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	del := fmt.Sprintf(`DELETE FROM %s WHERE address = $1`, s.table("reservations"))
	if _, err := s.db.ExecContext(ctx, del, address); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}
