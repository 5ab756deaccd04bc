package postbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rbaliyan/postbox/store"
	"github.com/rbaliyan/postbox/store/memory"
)

const testDomain = "example.com"

var (
	testLoginKey    = strings.Repeat("0123456789abcdef", 8)
	testLoginKeyAlt = strings.Repeat("fedcba9876543210", 8)
)

func testKeyPairs() []store.KeyPair {
	return []store.KeyPair{
		{Type: store.KeyTypeEncryption, Pubkey: strings.Repeat("A", 600), Privkey: strings.Repeat("B", 1200)},
		{Type: store.KeyTypeSignature, Pubkey: strings.Repeat("C", 600), Privkey: strings.Repeat("D", 1200)},
	}
}

func newRegistration(address string) *RegistrationRequest {
	return &RegistrationRequest{
		Address:        address,
		LoginKey:       testLoginKey,
		PrivateDataKey: strings.Repeat("E", 44),
		KeyPairs:       testKeyPairs(),
		Language:       "en",
	}
}

func testMessageInput() *MessageInput {
	return &MessageInput{
		KeySafe: []byte("key-safe"),
		Content: []byte("ciphertext"),
		Meta:    []byte("meta"),
	}
}

func setupTestService(t *testing.T, opts ...Option) Service {
	t.Helper()

	svc, err := NewService(append([]Option{
		WithStore(memory.New()),
		WithLocalDomain(testDomain),
	}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	return svc
}

// registerTestAccount registers an address through the open registration
// path (local domain, no reservation, no invite gating).
func registerTestAccount(t *testing.T, svc Service, address string) {
	t.Helper()
	if err := svc.Register(context.Background(), newRegistration(address)); err != nil {
		t.Fatalf("register %s: %v", address, err)
	}
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("service should not be connected before Connect")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	t.Run("connect and close", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ctx := context.Background()

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected IsConnected after Connect")
		}

		// Double connect should fail
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected disconnected after Close")
		}

		// Double close should be safe
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should not error, got %v", err)
		}
	})

	t.Run("operations fail before connect", func(t *testing.T) {
		svc, _ := NewService(WithStore(memory.New()), WithLocalDomain(testDomain))
		ctx := context.Background()

		if err := svc.Register(ctx, newRegistration("alice#example.com")); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if err := svc.Deliver(ctx, "alice#example.com", testMessageInput()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Authenticate(ctx, "alice#example.com", testLoginKey); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("reservations seeded on connect", func(t *testing.T) {
		st := memory.New()
		svc, err := NewService(
			WithStore(st),
			WithLocalDomain(testDomain),
			WithReservations(map[string]string{"vip#example.com": "c0de"}),
		)
		if err != nil {
			t.Fatalf("create service: %v", err)
		}
		ctx := context.Background()
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer svc.Close(ctx)

		code, err := st.GetReservation(ctx, "vip#example.com")
		if err != nil {
			t.Fatalf("get reservation: %v", err)
		}
		if code != "c0de" {
			t.Errorf("expected code %q, got %q", "c0de", code)
		}
	})
}

func TestClientAccess(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	t.Run("Address returns the raw address", func(t *testing.T) {
		pb := svc.Client("alice#example.com")
		if pb.Address() != "alice#example.com" {
			t.Errorf("expected address 'alice#example.com', got %q", pb.Address())
		}
	})

	t.Run("operations fail when not connected", func(t *testing.T) {
		disconnected, _ := NewService(WithStore(memory.New()), WithLocalDomain(testDomain))
		pb := disconnected.Client("alice#example.com")

		_, err := pb.Get(ctx, 1)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		_, err = pb.List(ctx, ListOptions{})
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		pb := svc.Client("not-an-address")
		_, err := pb.Get(ctx, 1)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	registerTestAccount(t, svc, "alice#example.com")
	pb := svc.Client("alice#example.com")

	const n = 25
	var wg sync.WaitGroup
	ids := make(chan uint32, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := pb.Create(ctx, testMessageInput())
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- msg.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate message id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
	}

	list, err := pb.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != n {
		t.Errorf("expected total %d, got %d", n, list.Total)
	}
}
