package postbox

import (
	"context"
	"errors"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	registerTestAccount(t, svc, "alice#example.com")

	t.Run("valid credentials return a client", func(t *testing.T) {
		pb, err := svc.Authenticate(ctx, "alice#example.com", testLoginKey)
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if pb.Address() != "alice#example.com" {
			t.Errorf("client address %q", pb.Address())
		}
		// The returned client is usable.
		if _, err := pb.List(ctx, ListOptions{}); err != nil {
			t.Errorf("list after authenticate: %v", err)
		}
	})

	t.Run("all failure causes collapse to unauthorized", func(t *testing.T) {
		cases := []struct {
			name     string
			address  string
			loginKey string
		}{
			{"wrong key", "alice#example.com", testLoginKeyAlt},
			{"unknown account", "ghost#example.com", testLoginKey},
			{"malformed address", "Not An Address", testLoginKey},
			{"malformed key", "alice#example.com", "tooshort"},
			{"empty key", "alice#example.com", ""},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.Authenticate(ctx, tc.address, tc.loginKey)
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("expected ErrUnauthorized, got %v", err)
				}
				// No cause detail may leak through the error chain.
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
					t.Errorf("authentication error leaks its cause: %v", err)
				}
			})
		}
	})

	t.Run("successful login is recorded", func(t *testing.T) {
		s := svc.(*service)
		account, err := s.store.GetAccount(ctx, "alice#example.com")
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if account.LastLogin.IsZero() {
			t.Error("expected LastLogin to be set after authentication")
		}
	})
}
