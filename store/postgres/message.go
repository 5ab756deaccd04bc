package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/postbox/retry"
	"github.com/rbaliyan/postbox/store"
)

// nowMicros returns the current CAS stamp value.
func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// CreateMessage inserts a message, assigning the next id for the account
// inside the insert itself. Concurrent inserts for the same account can
// collide on the (address, id) primary key; those are retried.
func (s *Store) CreateMessage(ctx context.Context, address string, data *store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	insert := fmt.Sprintf(`
		INSERT INTO %s (address, id, last_modified, received, meta, keysafe, content,
		                has_attachments, attachments, attachments_uri)
		SELECT $1, COALESCE(MAX(id), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9
		FROM %s WHERE address = $1
		RETURNING id, last_modified
	`, s.table("messages"), s.table("messages"))

	hasAttachments := len(data.Attachments) > 0 || data.AttachmentsURI != ""
	var attachments any
	if len(data.Attachments) > 0 {
		attachments = data.Attachments
	}

	cfg := retry.Config{
		MaxRetries: 5,
		IsRetryable: func(err error) bool {
			return isPQError(err, pqUniqueViolation)
		},
	}

	meta, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (*store.MessageMeta, error) {
		var m store.MessageMeta
		err := s.db.QueryRowContext(ctx, insert,
			address, nowMicros(), data.Received,
			data.Meta, data.KeySafe, data.Content,
			hasAttachments, attachments, data.AttachmentsURI,
		).Scan(&m.ID, &m.LastModified)
		if err != nil {
			if isPQError(err, pqForeignKeyViolation) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		return &m, nil
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &store.Message{
		ID:             meta.ID,
		LastModified:   meta.LastModified,
		Received:       data.Received,
		Meta:           data.Meta,
		KeySafe:        data.KeySafe,
		Content:        data.Content,
		HasAttachments: hasAttachments,
	}, nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, address string, id uint32) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, last_modified, deleted, received, meta, keysafe, content, has_attachments
		FROM %s WHERE address = $1 AND id = $2
	`, s.table("messages"))

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, address, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var m store.Message
	err := row.Scan(&m.ID, &m.LastModified, &m.Deleted, &m.Received,
		&m.Meta, &m.KeySafe, &m.Content, &m.HasAttachments)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages in creation order (ascending id).
func (s *Store) ListMessages(ctx context.Context, address string, filter store.ListFilter) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE address = $1 AND last_modified > $2
	`, s.table("messages"))

	list := &store.MessageList{}
	if err := s.db.QueryRowContext(ctx, count, address, filter.ModifiedAfter).Scan(&list.Total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	columns := `id, last_modified`
	if filter.IncludeData {
		columns = `id, last_modified, deleted, received, meta, keysafe, content, has_attachments`
	}
	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE address = $1 AND last_modified > $2
		ORDER BY id ASC%s
	`, columns, s.table("messages"), limit)

	rows, err := s.db.QueryContext(ctx, query, address, filter.ModifiedAfter)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m *store.Message
		if filter.IncludeData {
			m, err = scanMessage(rows)
		} else {
			m = &store.Message{}
			err = rows.Scan(&m.ID, &m.LastModified)
		}
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		list.Messages = append(list.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return list, nil
}

// UpdateMeta replaces meta under CAS on lastModified.
func (s *Store) UpdateMeta(ctx context.Context, address string, id uint32, expectedLastModified uint64, meta []byte) (*store.MessageMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := fmt.Sprintf(`
		UPDATE %s
		SET meta = $1, last_modified = GREATEST($2, last_modified + 1)
		WHERE address = $3 AND id = $4 AND last_modified = $5
		RETURNING id, last_modified
	`, s.table("messages"))

	var m store.MessageMeta
	err := s.db.QueryRowContext(ctx, update, meta, nowMicros(), address, id, expectedLastModified).
		Scan(&m.ID, &m.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.casFailure(ctx, address, id)
		}
		return nil, fmt.Errorf("update meta: %w", err)
	}
	return &m, nil
}

// DeleteMessage tombstones a message under CAS on lastModified.
func (s *Store) DeleteMessage(ctx context.Context, address string, id uint32, expectedLastModified uint64) (*store.MessageMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := fmt.Sprintf(`
		UPDATE %s
		SET deleted = TRUE, received = '', meta = ''::bytea, keysafe = ''::bytea,
		    content = ''::bytea, has_attachments = FALSE, attachments = NULL,
		    attachments_uri = '', last_modified = GREATEST($1, last_modified + 1)
		WHERE address = $2 AND id = $3 AND last_modified = $4
		RETURNING id, last_modified
	`, s.table("messages"))

	var m store.MessageMeta
	err := s.db.QueryRowContext(ctx, update, nowMicros(), address, id, expectedLastModified).
		Scan(&m.ID, &m.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.casFailure(ctx, address, id)
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return &m, nil
}

// casFailure distinguishes a stale stamp from a missing row after a CAS
// update matched nothing.
func (s *Store) casFailure(ctx context.Context, address string, id uint32) error {
	query := fmt.Sprintf(`
		SELECT id, last_modified FROM %s WHERE address = $1 AND id = $2
	`, s.table("messages"))

	var ce store.ConflictError
	err := s.db.QueryRowContext(ctx, query, address, id).Scan(&ce.ID, &ce.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("cas lookup: %w", err)
	}
	return &ce
}

// GetAttachments returns the attachment blob or its offload URI.
func (s *Store) GetAttachments(ctx context.Context, address string, id uint32) ([]byte, string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT deleted, has_attachments, attachments, attachments_uri
		FROM %s WHERE address = $1 AND id = $2
	`, s.table("messages"))

	var (
		deleted, has bool
		data         []byte
		uri          string
	)
	err := s.db.QueryRowContext(ctx, query, address, id).Scan(&deleted, &has, &data, &uri)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", fmt.Errorf("get attachments: %w", err)
	}
	if deleted || !has {
		return nil, "", store.ErrNotFound
	}
	if uri != "" {
		return nil, uri, nil
	}
	return data, "", nil
}
