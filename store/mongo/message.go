package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/postbox/store"
)

type messageDoc struct {
	Address        string `bson:"address"`
	ID             uint32 `bson:"id"`
	LastModified   uint64 `bson:"last_modified"`
	Deleted        bool   `bson:"deleted"`
	Received       string `bson:"received"`
	Meta           []byte `bson:"meta"`
	KeySafe        []byte `bson:"keysafe"`
	Content        []byte `bson:"content"`
	HasAttachments bool   `bson:"has_attachments"`
	Attachments    []byte `bson:"attachments,omitempty"`
	AttachmentsURI string `bson:"attachments_uri,omitempty"`
}

func (d *messageDoc) toMessage() *store.Message {
	return &store.Message{
		ID:             d.ID,
		LastModified:   d.LastModified,
		Deleted:        d.Deleted,
		Received:       d.Received,
		Meta:           d.Meta,
		KeySafe:        d.KeySafe,
		Content:        d.Content,
		HasAttachments: d.HasAttachments,
	}
}

// nextMessageID allocates the next message id for an account through an
// atomic counter document.
func (s *Store) nextMessageID(ctx context.Context, address string) (uint32, error) {
	var doc struct {
		Seq uint32 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": address},
		bson.M{"$inc": bson.M{"seq": 1}},
		mongoopts.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(mongoopts.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next message id: %w", err)
	}
	return doc.Seq, nil
}

// CreateMessage inserts a message with the next id for the account.
func (s *Store) CreateMessage(ctx context.Context, address string, data *store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count, err := s.accounts.CountDocuments(ctx, bson.M{"_id": address})
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if count == 0 {
		return nil, store.ErrNotFound
	}

	id, err := s.nextMessageID(ctx, address)
	if err != nil {
		return nil, err
	}

	doc := messageDoc{
		Address:        address,
		ID:             id,
		LastModified:   nowMicros(),
		Received:       data.Received,
		Meta:           data.Meta,
		KeySafe:        data.KeySafe,
		Content:        data.Content,
		HasAttachments: len(data.Attachments) > 0 || data.AttachmentsURI != "",
		Attachments:    data.Attachments,
		AttachmentsURI: data.AttachmentsURI,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return doc.toMessage(), nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, address string, id uint32) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"address": address, "id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return doc.toMessage(), nil
}

// ListMessages returns messages in creation order (ascending id).
func (s *Store) ListMessages(ctx context.Context, address string, filter store.ListFilter) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	match := bson.M{
		"address":       address,
		"last_modified": bson.M{"$gt": filter.ModifiedAfter},
	}

	total, err := s.messages.CountDocuments(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	list := &store.MessageList{Total: int(total)}

	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "id", Value: 1}})
	if filter.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(filter.Limit))
	}
	if !filter.IncludeData {
		findOpts = findOpts.SetProjection(bson.M{"id": 1, "last_modified": 1})
	}

	cursor, err := s.messages.Find(ctx, match, findOpts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if filter.IncludeData {
			list.Messages = append(list.Messages, doc.toMessage())
		} else {
			list.Messages = append(list.Messages, &store.Message{ID: doc.ID, LastModified: doc.LastModified})
		}
	}
	if err := cursor.Err(); err != nil {
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

	stamp := bumpStamp(expectedLastModified)
	update := bson.M{"$set": bson.M{"meta": meta, "last_modified": stamp}}
	return s.casMutate(ctx, address, id, expectedLastModified, stamp, update, "update meta")
}

// DeleteMessage tombstones a message under CAS on lastModified.
func (s *Store) DeleteMessage(ctx context.Context, address string, id uint32, expectedLastModified uint64) (*store.MessageMeta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	stamp := bumpStamp(expectedLastModified)
	update := bson.M{
		"$set": bson.M{
			"deleted":         true,
			"received":        "",
			"meta":            []byte{},
			"keysafe":         []byte{},
			"content":         []byte{},
			"has_attachments": false,
			"last_modified":   stamp,
		},
		"$unset": bson.M{"attachments": "", "attachments_uri": ""},
	}
	return s.casMutate(ctx, address, id, expectedLastModified, stamp, update, "delete message")
}

// casMutate applies a mutation only when lastModified still matches, and
// distinguishes a stale stamp from a missing document when it does not.
func (s *Store) casMutate(ctx context.Context, address string, id uint32, expectedLastModified, stamp uint64, update bson.M, op string) (*store.MessageMeta, error) {
	filter := bson.M{"address": address, "id": id, "last_modified": expectedLastModified}
	result, err := s.messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if result.MatchedCount == 0 {
		return nil, s.casFailure(ctx, address, id)
	}
	return &store.MessageMeta{ID: id, LastModified: stamp}, nil
}

func (s *Store) casFailure(ctx context.Context, address string, id uint32) error {
	var doc struct {
		ID           uint32 `bson:"id"`
		LastModified uint64 `bson:"last_modified"`
	}
	err := s.messages.FindOne(ctx, bson.M{"address": address, "id": id},
		mongoopts.FindOne().SetProjection(bson.M{"id": 1, "last_modified": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		return fmt.Errorf("cas lookup: %w", err)
	}
	return &store.ConflictError{ID: doc.ID, LastModified: doc.LastModified}
}

// GetAttachments returns the attachment blob or its offload URI.
func (s *Store) GetAttachments(ctx context.Context, address string, id uint32) ([]byte, string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"address": address, "id": id},
		mongoopts.FindOne().SetProjection(bson.M{
			"deleted": 1, "has_attachments": 1, "attachments": 1, "attachments_uri": 1,
		})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", fmt.Errorf("get attachments: %w", err)
	}
	if doc.Deleted || !doc.HasAttachments {
		return nil, "", store.ErrNotFound
	}
	if doc.AttachmentsURI != "" {
		return nil, doc.AttachmentsURI, nil
	}
	return doc.Attachments, "", nil
}
