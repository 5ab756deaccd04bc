// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rbaliyan/postbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// table returns a prefixed table name.
func (s *Store) table(name string) string {
	return s.opts.prefix + name
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	tables := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				address VARCHAR(320) PRIMARY KEY,
				login_key_hash TEXT NOT NULL,
				private_data_key TEXT NOT NULL,
				accepted_terms TEXT NOT NULL DEFAULT '',
				reset_code TEXT NOT NULL DEFAULT '',
				registration_code TEXT NOT NULL DEFAULT '',
				language TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_login TIMESTAMPTZ
			)
		`, s.table("accounts")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				address VARCHAR(320) NOT NULL REFERENCES %s(address) ON DELETE CASCADE,
				type VARCHAR(8) NOT NULL,
				pubkey TEXT NOT NULL,
				privkey TEXT NOT NULL,
				valid_from TIMESTAMPTZ NOT NULL,
				valid_until TIMESTAMPTZ NOT NULL
			)
		`, s.table("account_keys"), s.table("accounts")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				address VARCHAR(320) NOT NULL REFERENCES %s(address) ON DELETE CASCADE,
				id INTEGER NOT NULL,
				last_modified BIGINT NOT NULL,
				deleted BOOLEAN NOT NULL DEFAULT FALSE,
				received TEXT NOT NULL DEFAULT '',
				meta BYTEA NOT NULL DEFAULT ''::bytea,
				keysafe BYTEA NOT NULL DEFAULT ''::bytea,
				content BYTEA NOT NULL DEFAULT ''::bytea,
				has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
				attachments BYTEA,
				attachments_uri TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (address, id)
			)
		`, s.table("messages"), s.table("accounts")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				address VARCHAR(320) NOT NULL REFERENCES %s(address) ON DELETE CASCADE,
				key VARCHAR(64) NOT NULL,
				value BYTEA NOT NULL DEFAULT ''::bytea,
				last_modified BIGINT NOT NULL,
				PRIMARY KEY (address, key)
			)
		`, s.table("profile"), s.table("accounts")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				token TEXT PRIMARY KEY,
				address VARCHAR(320) NOT NULL REFERENCES %s(address) ON DELETE CASCADE,
				environment VARCHAR(16) NOT NULL
			)
		`, s.table("push_tokens"), s.table("accounts")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				address VARCHAR(320) PRIMARY KEY,
				code TEXT NOT NULL
			)
		`, s.table("reservations")),
	}

	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_address ON %s(address)`,
			s.table("account_keys"), s.table("account_keys")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_modified ON %s(address, last_modified)`,
			s.table("messages"), s.table("messages")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_address ON %s(address)`,
			s.table("push_tokens"), s.table("push_tokens")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_iid ON %s(split_part(token, ':', 1))`,
			s.table("push_tokens"), s.table("push_tokens")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_code ON %s(registration_code) WHERE registration_code <> ''`,
			s.table("accounts"), s.table("accounts")),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// withTx runs fn inside a transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrTransactionFailed, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrTransactionFailed, err)
	}
	return nil
}

// PostgreSQL error classes.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isPQError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == code
	}
	return false
}
