package memory

import (
	"context"

	"github.com/rbaliyan/postbox/store"
)

// CreateMessage inserts a message, assigning the next id for the account.
func (s *Store) CreateMessage(ctx context.Context, address string, data *store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	acc.nextID++
	m := &message{
		Message: store.Message{
			ID:             acc.nextID,
			LastModified:   acc.stamp(),
			Received:       data.Received,
			Meta:           append([]byte(nil), data.Meta...),
			KeySafe:        append([]byte(nil), data.KeySafe...),
			Content:        append([]byte(nil), data.Content...),
			HasAttachments: len(data.Attachments) > 0 || data.AttachmentsURI != "",
		},
		attachments:    append([]byte(nil), data.Attachments...),
		attachmentsURI: data.AttachmentsURI,
	}
	acc.messages = append(acc.messages, m)

	out := m.Message
	return &out, nil
}

// find returns the message with the given id. Caller must hold acc.mu.
func (acc *account) find(id uint32) *message {
	// ids are assigned in append order, so the slice is sorted by id
	if id == 0 || int(id) > len(acc.messages) {
		return nil
	}
	return acc.messages[id-1]
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, address string, id uint32) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	m := acc.find(id)
	if m == nil {
		return nil, store.ErrNotFound
	}
	out := m.Message
	return &out, nil
}

// ListMessages returns messages in creation order.
func (s *Store) ListMessages(ctx context.Context, address string, filter store.ListFilter) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	list := &store.MessageList{}
	for _, m := range acc.messages {
		if filter.ModifiedAfter != 0 && m.LastModified <= filter.ModifiedAfter {
			continue
		}
		list.Total++
		if filter.Limit > 0 && len(list.Messages) >= filter.Limit {
			continue
		}
		out := m.Message
		if !filter.IncludeData {
			out = store.Message{ID: m.ID, LastModified: m.LastModified}
		}
		list.Messages = append(list.Messages, &out)
	}
	return list, nil
}

// UpdateMeta replaces meta under CAS on lastModified.
func (s *Store) UpdateMeta(ctx context.Context, address string, id uint32, expectedLastModified uint64, meta []byte) (*store.MessageMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	m := acc.find(id)
	if m == nil {
		return nil, store.ErrNotFound
	}
	if m.LastModified != expectedLastModified {
		return nil, &store.ConflictError{ID: m.ID, LastModified: m.LastModified}
	}

	m.Meta = append([]byte(nil), meta...)
	m.LastModified = acc.stamp()
	return &store.MessageMeta{ID: m.ID, LastModified: m.LastModified}, nil
}

// DeleteMessage tombstones a message under CAS on lastModified.
func (s *Store) DeleteMessage(ctx context.Context, address string, id uint32, expectedLastModified uint64) (*store.MessageMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	m := acc.find(id)
	if m == nil {
		return nil, store.ErrNotFound
	}
	if m.LastModified != expectedLastModified {
		return nil, &store.ConflictError{ID: m.ID, LastModified: m.LastModified}
	}

	m.Deleted = true
	m.Received = ""
	m.Meta = []byte{}
	m.KeySafe = []byte{}
	m.Content = []byte{}
	m.HasAttachments = false
	m.attachments = nil
	m.attachmentsURI = ""
	m.LastModified = acc.stamp()
	return &store.MessageMeta{ID: m.ID, LastModified: m.LastModified}, nil
}

// GetAttachments returns the attachment blob or its offload URI.
func (s *Store) GetAttachments(ctx context.Context, address string, id uint32) ([]byte, string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, "", err
	}

	acc, ok := s.getAccount(address)
	if !ok {
		return nil, "", store.ErrNotFound
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	m := acc.find(id)
	if m == nil || m.Deleted || !m.HasAttachments {
		return nil, "", store.ErrNotFound
	}
	if m.attachmentsURI != "" {
		return nil, m.attachmentsURI, nil
	}
	return append([]byte(nil), m.attachments...), "", nil
}
