package postbox

import (
	"context"
	"crypto/subtle"
	"sync/atomic"
)

// Authenticate verifies an address/login-key pair and returns a client
// for the account.
//
// Every failure cause collapses to ErrUnauthorized: a malformed address, a
// malformed key, an unknown account, and a wrong key are indistinguishable
// to the caller, so authentication cannot be used to probe which addresses
// exist.
func (s *service) Authenticate(ctx context.Context, address, loginKey string) (Postbox, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}

	addr, err := ParseAddress(address)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if err := validateLoginKey(loginKey); err != nil {
		return nil, ErrUnauthorized
	}

	account, err := s.store.GetAccount(ctx, addr.String())
	if err != nil {
		return nil, ErrUnauthorized
	}

	if subtle.ConstantTimeCompare([]byte(LoginKeyHash(loginKey)), []byte(account.LoginKeyHash)) != 1 {
		return nil, ErrUnauthorized
	}

	if err := s.store.TouchLastLogin(ctx, addr.String()); err != nil {
		s.logger.Warn("touch last login", "address", addr.String(), "error", err)
	}

	return &client{address: addr, raw: addr.String(), service: s, valid: true}, nil
}
