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

type profileDoc struct {
	Address      string `bson:"address"`
	Key          string `bson:"key"`
	Value        []byte `bson:"value"`
	LastModified uint64 `bson:"last_modified"`
}

// ListProfile returns profile entries with lastModified > modifiedAfter,
// ordered by key.
func (s *Store) ListProfile(ctx context.Context, address string, modifiedAfter uint64) ([]*store.ProfileEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	match := bson.M{
		"address":       address,
		"last_modified": bson.M{"$gt": modifiedAfter},
	}
	cursor, err := s.profile.Find(ctx, match,
		mongoopts.Find().SetSort(bson.D{bson.E{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*store.ProfileEntry
	for cursor.Next(ctx) {
		var doc profileDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode profile entry: %w", err)
		}
		entries = append(entries, &store.ProfileEntry{
			Key:          doc.Key,
			Value:        doc.Value,
			LastModified: doc.LastModified,
		})
	}
	if err := cursor.Err(); err != nil {
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

	if expectedLastModified == 0 {
		count, err := s.accounts.CountDocuments(ctx, bson.M{"_id": address})
		if err != nil {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
		if count == 0 {
			return nil, store.ErrNotFound
		}

		doc := profileDoc{
			Address:      address,
			Key:          key,
			Value:        value,
			LastModified: nowMicros(),
		}
		if _, err := s.profile.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, s.profileCASFailure(ctx, address, key)
			}
			return nil, fmt.Errorf("insert profile entry: %w", err)
		}
		return &store.ProfileMeta{Key: key, LastModified: doc.LastModified}, nil
	}

	stamp := bumpStamp(expectedLastModified)
	filter := bson.M{"address": address, "key": key, "last_modified": expectedLastModified}
	update := bson.M{"$set": bson.M{"value": value, "last_modified": stamp}}
	result, err := s.profile.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("update profile entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, s.profileCASFailure(ctx, address, key)
	}
	return &store.ProfileMeta{Key: key, LastModified: stamp}, nil
}

func (s *Store) profileCASFailure(ctx context.Context, address, key string) error {
	var doc struct {
		LastModified uint64 `bson:"last_modified"`
	}
	err := s.profile.FindOne(ctx, bson.M{"address": address, "key": key},
		mongoopts.FindOne().SetProjection(bson.M{"last_modified": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		return fmt.Errorf("profile cas lookup: %w", err)
	}
	return &store.ConflictError{LastModified: doc.LastModified}
}
