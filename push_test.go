package postbox

import (
	"context"
	"errors"
	"testing"
)

func TestPushTokens(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	registerTestAccount(t, svc, "alice#example.com")
	registerTestAccount(t, svc, "bob#example.com")
	alice := svc.Client("alice#example.com")
	bob := svc.Client("bob#example.com")

	t.Run("register and list", func(t *testing.T) {
		err := alice.RegisterPush(ctx, &PushToken{
			RegistrationToken: "device1:token-a",
			Environment:       PushEnvAndroid,
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}

		tokens, err := alice.PushTokens(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tokens) != 1 || tokens[0].RegistrationToken != "device1:token-a" {
			t.Fatalf("unexpected tokens: %+v", tokens)
		}
		if tokens[0].Environment != PushEnvAndroid {
			t.Errorf("environment %q, want android", tokens[0].Environment)
		}
	})

	t.Run("invalid environment is rejected", func(t *testing.T) {
		err := alice.RegisterPush(ctx, &PushToken{
			RegistrationToken: "device9:token",
			Environment:       "windows",
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("empty token is rejected", func(t *testing.T) {
		err := alice.RegisterPush(ctx, &PushToken{Environment: PushEnvIOS})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("same instance id supersedes across accounts", func(t *testing.T) {
		// Device moved to bob: the rotated token shares alice's instance id.
		err := bob.RegisterPush(ctx, &PushToken{
			RegistrationToken: "device1:token-b",
			Environment:       PushEnvIOS,
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}

		aliceTokens, err := alice.PushTokens(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(aliceTokens) != 0 {
			t.Errorf("expected alice's token superseded, got %+v", aliceTokens)
		}

		bobTokens, err := bob.PushTokens(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(bobTokens) != 1 || bobTokens[0].RegistrationToken != "device1:token-b" {
			t.Errorf("unexpected tokens for bob: %+v", bobTokens)
		}
	})

	t.Run("delete removes an owned token", func(t *testing.T) {
		if err := bob.DeletePush(ctx, "device1:token-b"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		tokens, err := bob.PushTokens(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tokens) != 0 {
			t.Errorf("expected no tokens, got %+v", tokens)
		}
	})

	t.Run("delete unknown token returns not found", func(t *testing.T) {
		if err := bob.DeletePush(ctx, "device1:token-b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete cannot touch another account's token", func(t *testing.T) {
		err := alice.RegisterPush(ctx, &PushToken{
			RegistrationToken: "device2:token-c",
			Environment:       PushEnvAndroid,
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := bob.DeletePush(ctx, "device2:token-c"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
