package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/postbox/store"
)

type pushTokenDoc struct {
	Token       string `bson:"_id"`
	Address     string `bson:"address"`
	InstanceID  string `bson:"instance_id"`
	Environment string `bson:"environment"`
}

// RegisterPushToken registers a token, superseding tokens that share its
// instance id regardless of owning account.
func (s *Store) RegisterPushToken(ctx context.Context, address string, token *store.PushToken) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count, err := s.accounts.CountDocuments(ctx, bson.M{"_id": address})
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if count == 0 {
		return store.ErrNotFound
	}

	iid := store.InstanceID(token.RegistrationToken)
	if _, err := s.pushTokens.DeleteMany(ctx, bson.M{"instance_id": iid}); err != nil {
		return fmt.Errorf("supersede push tokens: %w", err)
	}

	doc := pushTokenDoc{
		Token:       token.RegistrationToken,
		Address:     address,
		InstanceID:  iid,
		Environment: token.Environment,
	}
	if _, err := s.pushTokens.ReplaceOne(ctx, bson.M{"_id": doc.Token}, doc, replaceUpsert()); err != nil {
		return fmt.Errorf("insert push token: %w", err)
	}
	return nil
}

// DeletePushToken removes a token owned by the account.
func (s *Store) DeletePushToken(ctx context.Context, address, registrationToken string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.pushTokens.DeleteOne(ctx, bson.M{"_id": registrationToken, "address": address})
	if err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}
	if result.DeletedCount == 0 {
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

	cursor, err := s.pushTokens.Find(ctx, bson.M{"address": address},
		mongoopts.Find().SetSort(bson.D{bson.E{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var tokens []*store.PushToken
	for cursor.Next(ctx) {
		var doc pushTokenDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode push token: %w", err)
		}
		tokens = append(tokens, &store.PushToken{
			RegistrationToken: doc.Token,
			Environment:       doc.Environment,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}
	return tokens, nil
}
