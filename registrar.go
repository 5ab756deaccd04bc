package postbox

import (
	"context"
	"crypto/hmac"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/postbox/store"
)

// RegistrationRequest carries everything needed to register an address or
// reset its credentials. The challenge fields are empty on the first
// attempt; the server answers with a ChallengeError and the client retries
// with the challenge, its auth tag, and the answer filled in.
type RegistrationRequest struct {
	Address        string          `json:"address"`
	LoginKey       string          `json:"loginKey"`
	PrivateDataKey string          `json:"privateDataKey"`
	KeyPairs       []store.KeyPair `json:"keyPairs"`
	AcceptedTerms  string          `json:"acceptedTerms,omitempty"`
	Language       string          `json:"language,omitempty"`

	Challenge       *Challenge `json:"challenge,omitempty"`
	ChallengeAuth   string     `json:"challengeAuth,omitempty"`
	ChallengeAnswer string     `json:"challengeAnswer,omitempty"`
}

// Register runs the registration handshake.
//
// When a challenge is required and the request carries none, a
// ChallengeError wrapping ErrChallengeRequired is returned. A request with
// an invalid or stale challenge, or a wrong answer, gets a fresh
// ChallengeError wrapping ErrChallengeFailed. A correctly answered reset
// challenge replaces the account's credentials in place; message history,
// profile, and push registrations are preserved. All other successful
// outcomes create the account.
func (s *service) Register(ctx context.Context, req *RegistrationRequest) error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "postbox.Register",
		attribute.String("address", req.Address))

	err := s.register(ctx, req)
	endSpan(err)
	s.otel.recordRegister(ctx, time.Since(start), err)
	return err
}

func (s *service) register(ctx context.Context, req *RegistrationRequest) error {
	addr, err := ParseAddress(req.Address)
	if err != nil {
		return err
	}
	if err := validateLoginKey(req.LoginKey); err != nil {
		return err
	}
	if err := validatePrivateDataKey(req.PrivateDataKey); err != nil {
		return err
	}
	if err := validateKeyPairs(req.KeyPairs); err != nil {
		return err
	}

	account, err := s.store.GetAccount(ctx, addr.String())
	if err != nil && !store.IsNotFound(err) {
		return fmt.Errorf("lookup account: %w", err)
	}

	var (
		required        string
		reservationCode string
	)
	switch {
	case account != nil && account.ResetCode != "":
		required = ChallengeTypeReset
	case account != nil:
		return ErrAddressExists
	default:
		// Reservations win over the federation block so that reserved
		// addresses cannot be taken and non-local reservations stay usable.
		code, err := s.store.GetReservation(ctx, addr.String())
		switch {
		case err == nil:
			required = ChallengeTypeReservation
			reservationCode = code
		case !store.IsNotFound(err):
			return fmt.Errorf("lookup reservation: %w", err)
		case !addr.IsLocal(s.opts.localDomain):
			required = ChallengeTypeBlocked
		case len(s.opts.inviteSecret) > 0:
			required = ChallengeTypeCode
		}
	}

	if required == "" {
		return s.createAccount(ctx, addr, req, "")
	}
	if req.Challenge == nil {
		return s.newChallenge(required, addr.String())
	}

	if !s.verifyChallenge(ctx, addr, req, required, account, reservationCode) {
		ce := s.newChallenge(required, addr.String())
		ce.reason = ErrChallengeFailed
		return ce
	}

	switch required {
	case ChallengeTypeReset:
		return s.resetAccount(ctx, addr, req)
	case ChallengeTypeReservation:
		if err := s.createAccount(ctx, addr, req, ""); err != nil {
			return err
		}
		if err := s.store.DeleteReservation(ctx, addr.String()); err != nil {
			s.logger.Warn("delete consumed reservation", "address", addr.String(), "error", err)
		}
		return nil
	default:
		return s.createAccount(ctx, addr, req, req.ChallengeAnswer)
	}
}

// verifyChallenge checks the echoed challenge and its answer. All causes
// of failure are treated identically.
func (s *service) verifyChallenge(ctx context.Context, addr Address, req *RegistrationRequest, required string, account *store.Account, reservationCode string) bool {
	c := req.Challenge
	if c.Type != required || c.User != addr.String() {
		return false
	}
	if !verifyChallengeTag(s.opts.challengeKey, c, req.ChallengeAuth) {
		return false
	}
	if !c.fresh(time.Now()) {
		return false
	}

	switch required {
	case ChallengeTypeReset:
		return hmac.Equal([]byte(account.ResetCode), []byte(req.ChallengeAnswer))
	case ChallengeTypeReservation:
		return hmac.Equal([]byte(reservationCode), []byte(req.ChallengeAnswer))
	case ChallengeTypeCode:
		if !verifyInviteCode(s.opts.inviteSecret, req.ChallengeAnswer) {
			return false
		}
		used, err := s.store.RegistrationCodeUsed(ctx, req.ChallengeAnswer)
		if err != nil {
			s.logger.Error("registration code lookup", "error", err)
			return false
		}
		return !used
	default:
		return false
	}
}

func (s *service) createAccount(ctx context.Context, addr Address, req *RegistrationRequest, registrationCode string) error {
	account := &store.Account{
		Address:          addr.String(),
		LoginKeyHash:     LoginKeyHash(req.LoginKey),
		PrivateDataKey:   req.PrivateDataKey,
		AcceptedTerms:    req.AcceptedTerms,
		RegistrationCode: registrationCode,
		Language:         req.Language,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account, req.KeyPairs); err != nil {
		if store.IsAddressExists(err) {
			return ErrAddressExists
		}
		return fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account registered", "address", addr.String())
	return s.publish(ctx, "AccountRegistered", func() error {
		return s.events.AccountRegistered.Publish(ctx, AccountRegisteredEvent{
			Address:      addr.String(),
			Language:     req.Language,
			RegisteredAt: account.CreatedAt,
		})
	})
}

func (s *service) resetAccount(ctx context.Context, addr Address, req *RegistrationRequest) error {
	account := &store.Account{
		LoginKeyHash:   LoginKeyHash(req.LoginKey),
		PrivateDataKey: req.PrivateDataKey,
		AcceptedTerms:  req.AcceptedTerms,
	}
	if err := s.store.ResetCredentials(ctx, addr.String(), account, req.KeyPairs); err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}

	s.logger.Info("account credentials reset", "address", addr.String())
	return s.publish(ctx, "CredentialsReset", func() error {
		return s.events.CredentialsReset.Publish(ctx, CredentialsResetEvent{
			Address: addr.String(),
			ResetAt: time.Now().UTC(),
		})
	})
}
