package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/rbaliyan/postbox/store"
)

type accountDoc struct {
	Address          string       `bson:"_id"`
	LoginKeyHash     string       `bson:"login_key_hash"`
	PrivateDataKey   string       `bson:"private_data_key"`
	AcceptedTerms    string       `bson:"accepted_terms"`
	ResetCode        string       `bson:"reset_code"`
	RegistrationCode string       `bson:"registration_code"`
	Language         string       `bson:"language"`
	CreatedAt        time.Time    `bson:"created_at"`
	LastLogin        time.Time    `bson:"last_login,omitempty"`
	Keys             []keyPairDoc `bson:"keys"`
}

type keyPairDoc struct {
	Type       string    `bson:"type"`
	Pubkey     string    `bson:"pubkey"`
	Privkey    string    `bson:"privkey"`
	ValidFrom  time.Time `bson:"valid_from"`
	ValidUntil time.Time `bson:"valid_until"`
}

func toKeyDocs(keys []store.KeyPair) []keyPairDoc {
	docs := make([]keyPairDoc, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, keyPairDoc{
			Type:       k.Type,
			Pubkey:     k.Pubkey,
			Privkey:    k.Privkey,
			ValidFrom:  k.ValidFrom,
			ValidUntil: k.ValidUntil,
		})
	}
	return docs
}

// CreateAccount inserts a new account with its key pairs.
func (s *Store) CreateAccount(ctx context.Context, account *store.Account, keys []store.KeyPair) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := accountDoc{
		Address:          account.Address,
		LoginKeyHash:     account.LoginKeyHash,
		PrivateDataKey:   account.PrivateDataKey,
		AcceptedTerms:    account.AcceptedTerms,
		ResetCode:        account.ResetCode,
		RegistrationCode: account.RegistrationCode,
		Language:         account.Language,
		CreatedAt:        time.Now().UTC(),
		Keys:             toKeyDocs(keys),
	}

	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrAddressExists
		}
		return fmt.Errorf("insert account: %w", err)
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

	var doc accountDoc
	err := s.accounts.FindOne(ctx, bson.M{"_id": address}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &store.Account{
		Address:          doc.Address,
		LoginKeyHash:     doc.LoginKeyHash,
		PrivateDataKey:   doc.PrivateDataKey,
		AcceptedTerms:    doc.AcceptedTerms,
		ResetCode:        doc.ResetCode,
		RegistrationCode: doc.RegistrationCode,
		Language:         doc.Language,
		CreatedAt:        doc.CreatedAt,
		LastLogin:        doc.LastLogin,
	}, nil
}

// ResetCredentials replaces credentials and key material in place.
func (s *Store) ResetCredentials(ctx context.Context, address string, account *store.Account, keys []store.KeyPair) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	set := bson.M{
		"login_key_hash":   account.LoginKeyHash,
		"private_data_key": account.PrivateDataKey,
		"reset_code":       "",
		"keys":             toKeyDocs(keys),
	}
	if account.AcceptedTerms != "" {
		set["accepted_terms"] = account.AcceptedTerms
	}

	result, err := s.accounts.UpdateOne(ctx, bson.M{"_id": address}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful authentication.
func (s *Store) TouchLastLogin(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.accounts.UpdateOne(ctx, bson.M{"_id": address},
		bson.M{"$set": bson.M{"last_login": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RegistrationCodeUsed reports whether any account consumed the invite code.
func (s *Store) RegistrationCodeUsed(ctx context.Context, code string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if code == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count, err := s.accounts.CountDocuments(ctx, bson.M{"registration_code": code})
	if err != nil {
		return false, fmt.Errorf("registration code lookup: %w", err)
	}
	return count > 0, nil
}

// DeleteAccount removes an account and its dependent documents.
func (s *Store) DeleteAccount(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.accounts.DeleteOne(ctx, bson.M{"_id": address})
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}

	// Best-effort cleanup of dependent collections; the account itself is
	// already gone.
	filter := bson.M{"address": address}
	if _, err := s.messages.DeleteMany(ctx, filter); err != nil {
		s.logger.Warn("delete account messages", "address", address, "error", err)
	}
	if _, err := s.counters.DeleteOne(ctx, bson.M{"_id": address}); err != nil {
		s.logger.Warn("delete account message counter", "address", address, "error", err)
	}
	if _, err := s.profile.DeleteMany(ctx, filter); err != nil {
		s.logger.Warn("delete account profile", "address", address, "error", err)
	}
	if _, err := s.pushTokens.DeleteMany(ctx, filter); err != nil {
		s.logger.Warn("delete account push tokens", "address", address, "error", err)
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

	_, err := s.reservations.ReplaceOne(ctx, bson.M{"_id": address},
		bson.M{"_id": address, "code": code}, replaceUpsert())
	if err != nil {
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

	var doc struct {
		Code string `bson:"code"`
	}
	err := s.reservations.FindOne(ctx, bson.M{"_id": address}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("get reservation: %w", err)
	}
	return doc.Code, nil
}

// DeleteReservation removes the reservation for an address.
func (s *Store) DeleteReservation(ctx context.Context, address string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.reservations.DeleteOne(ctx, bson.M{"_id": address}); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}
