package postbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/postbox/store"
)

// Deliver stores a message for a recipient on behalf of an anonymous
// sender. Meta is discarded and no message identifiers are revealed to
// the caller.
func (s *service) Deliver(ctx context.Context, recipient string, in *MessageInput) error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	addr, err := ParseAddress(recipient)
	if err != nil {
		return err
	}
	_, err = s.storeMessage(ctx, addr.String(), in, false)
	return err
}

// storeMessage is the shared create path for authenticated creates and
// anonymous deliveries.
func (s *service) storeMessage(ctx context.Context, address string, in *MessageInput, authenticated bool) (*Message, error) {
	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "postbox.StoreMessage",
		attribute.String("address", address),
		attribute.Bool("authenticated", authenticated))

	msg, err := s.storeMessageLocked(ctx, address, in, authenticated)
	endSpan(err)
	s.otel.recordStore(ctx, time.Since(start), authenticated, err)
	return msg, err
}

func (s *service) storeMessageLocked(ctx context.Context, address string, in *MessageInput, authenticated bool) (*Message, error) {
	if err := validateMessageInput(in, store.MaxAttachmentsMultipartBytes); err != nil {
		return nil, err
	}

	if err := s.storeSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire delivery slot: %w", err)
	}
	defer s.storeSem.Release(1)

	data := &store.MessageData{
		Received:    time.Now().UTC().Format(time.RFC3339),
		KeySafe:     in.KeySafe,
		Content:     in.Content,
		Attachments: in.Attachments,
	}
	if authenticated {
		data.Meta = in.Meta
	}

	// Off-load large attachment bundles to the blob store when available.
	if s.opts.attachments != nil && len(in.Attachments) > s.opts.inlineAttachmentLimit {
		uri, err := s.opts.attachments.Upload(ctx, "attachments.bin", "application/octet-stream",
			bytes.NewReader(in.Attachments))
		if err != nil {
			return nil, fmt.Errorf("upload attachments: %w", err)
		}
		data.Attachments = nil
		data.AttachmentsURI = uri
	}

	msg, err := s.store.CreateMessage(ctx, address, data)
	if err != nil {
		if data.AttachmentsURI != "" {
			if delErr := s.opts.attachments.Delete(ctx, data.AttachmentsURI); delErr != nil {
				s.logger.Warn("delete orphaned attachment blob", "uri", data.AttachmentsURI, "error", delErr)
			}
		}
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.logger.Debug("message stored", "address", address, "id", msg.ID, "authenticated", authenticated)
	if err := s.publish(ctx, "MessageStored", func() error {
		return s.events.MessageStored.Publish(ctx, MessageStoredEvent{
			Address:        address,
			MessageID:      msg.ID,
			HasAttachments: msg.HasAttachments,
			Authenticated:  authenticated,
			StoredAt:       time.Now().UTC(),
		})
	}); err != nil {
		return msg, err
	}
	return msg, nil
}

// Create stores a message in the account, returning it with the assigned
// id and stamp.
func (c *client) Create(ctx context.Context, in *MessageInput) (*Message, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return c.service.storeMessage(ctx, c.address.String(), in, true)
}

// Get retrieves a single message. Tombstoned messages are returned with
// Deleted set and empty payloads.
func (c *client) Get(ctx context.Context, id uint32) (*Message, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := c.service.otel.startSpan(ctx, "postbox.GetMessage",
		attribute.String("address", c.raw),
		attribute.Int64("message_id", int64(id)))

	msg, err := c.service.store.GetMessage(ctx, c.address.String(), id)
	if store.IsNotFound(err) {
		err = ErrNotFound
	}
	endSpan(err)
	c.service.otel.recordGet(ctx, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// List returns messages in creation order. The Total count covers every
// match regardless of Limit.
func (c *client) List(ctx context.Context, opts ListOptions) (*MessageList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > c.service.opts.maxListLimit {
		limit = c.service.opts.maxListLimit
	}

	start := time.Now()
	ctx, endSpan := c.service.otel.startSpan(ctx, "postbox.ListMessages",
		attribute.String("address", c.raw))

	list, err := c.service.store.ListMessages(ctx, c.address.String(), store.ListFilter{
		ModifiedAfter: opts.ModifiedAfter,
		IncludeData:   opts.IncludeData,
		Limit:         limit,
	})
	endSpan(err)
	resultCount := 0
	if list != nil {
		resultCount = len(list.Messages)
	}
	c.service.otel.recordList(ctx, time.Since(start), resultCount, err)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return list, nil
}

// UpdateMeta replaces the message's meta if lastModified still matches the
// stored stamp. On a stale stamp the returned error carries the current
// id and stamp; extract it with AsConflict.
func (c *client) UpdateMeta(ctx context.Context, id uint32, lastModified uint64, meta []byte) (*MessageMeta, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if len(meta) > store.MaxMetaBytes {
		return nil, &ValidationError{Field: "meta", Message: fmt.Sprintf("exceeds %d bytes", store.MaxMetaBytes)}
	}

	start := time.Now()
	ctx, endSpan := c.service.otel.startSpan(ctx, "postbox.UpdateMeta",
		attribute.String("address", c.raw),
		attribute.Int64("message_id", int64(id)))

	m, err := c.service.store.UpdateMeta(ctx, c.address.String(), id, lastModified, meta)
	if store.IsNotFound(err) {
		err = ErrNotFound
	}
	endSpan(err)
	c.service.otel.recordUpdate(ctx, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Delete tombstones the message if lastModified still matches: payloads
// are cleared, the id and a bumped stamp remain. Off-loaded attachment
// blobs are removed best effort.
func (c *client) Delete(ctx context.Context, id uint32, lastModified uint64) (*MessageMeta, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := c.service.otel.startSpan(ctx, "postbox.DeleteMessage",
		attribute.String("address", c.raw),
		attribute.Int64("message_id", int64(id)))

	m, err := c.deleteMessage(ctx, id, lastModified)
	endSpan(err)
	c.service.otel.recordDelete(ctx, time.Since(start), err)
	return m, err
}

func (c *client) deleteMessage(ctx context.Context, id uint32, lastModified uint64) (*MessageMeta, error) {
	var blobURI string
	if c.service.opts.attachments != nil {
		if _, uri, err := c.service.store.GetAttachments(ctx, c.address.String(), id); err == nil {
			blobURI = uri
		}
	}

	m, err := c.service.store.DeleteMessage(ctx, c.address.String(), id, lastModified)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if blobURI != "" {
		if err := c.service.opts.attachments.Delete(ctx, blobURI); err != nil {
			c.service.logger.Warn("delete attachment blob", "uri", blobURI, "error", err)
		}
	}

	if err := c.service.publish(ctx, "MessageDeleted", func() error {
		return c.service.events.MessageDeleted.Publish(ctx, MessageDeletedEvent{
			Address:   c.address.String(),
			MessageID: id,
			DeletedAt: time.Now().UTC(),
		})
	}); err != nil {
		return m, err
	}
	return m, nil
}

// Attachments streams the encrypted attachment bundle of a message.
// Tombstoned messages and messages without attachments yield ErrNotFound.
func (c *client) Attachments(ctx context.Context, id uint32) (io.ReadCloser, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	data, uri, err := c.service.store.GetAttachments(ctx, c.address.String(), id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	if uri != "" {
		if c.service.opts.attachments == nil {
			return nil, ErrAttachmentStoreNotConfigured
		}
		return c.service.opts.attachments.Load(ctx, uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
