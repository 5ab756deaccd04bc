// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/postbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	opts      *options
	connected int32
	logger    *slog.Logger

	accounts     *mongo.Collection
	messages     *mongo.Collection
	counters     *mongo.Collection
	profile      *mongo.Collection
	pushTokens   *mongo.Collection
	reservations *mongo.Collection
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.accounts = s.db.Collection("accounts")
	s.messages = s.db.Collection("messages")
	s.counters = s.db.Collection("message_counters")
	s.profile = s.db.Collection("profile")
	s.pushTokens = s.db.Collection("push_tokens")
	s.reservations = s.db.Collection("reservations")

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	messageIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "address", Value: 1},
				bson.E{Key: "id", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
		{Keys: bson.D{
			bson.E{Key: "address", Value: 1},
			bson.E{Key: "last_modified", Value: 1},
		}},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	profileIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "address", Value: 1},
				bson.E{Key: "key", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
	}
	if _, err := s.profile.Indexes().CreateMany(ctx, profileIndexes); err != nil {
		return err
	}

	pushIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "instance_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "address", Value: 1}}},
	}
	if _, err := s.pushTokens.Indexes().CreateMany(ctx, pushIndexes); err != nil {
		return err
	}

	accountIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "registration_code", Value: 1}}},
	}
	_, err := s.accounts.Indexes().CreateMany(ctx, accountIndexes)
	return err
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func replaceUpsert() *mongoopts.ReplaceOptionsBuilder {
	return mongoopts.Replace().SetUpsert(true)
}

// nowMicros returns the current CAS stamp value.
func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// bumpStamp returns a stamp strictly greater than prev.
func bumpStamp(prev uint64) uint64 {
	stamp := nowMicros()
	if stamp <= prev {
		stamp = prev + 1
	}
	return stamp
}
