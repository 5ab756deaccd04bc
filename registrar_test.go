package postbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/postbox/store"
	"github.com/rbaliyan/postbox/store/memory"
)

func TestRegisterOpen(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	t.Run("open registration succeeds without challenge", func(t *testing.T) {
		if err := svc.Register(ctx, newRegistration("alice#example.com")); err != nil {
			t.Fatalf("register: %v", err)
		}
		if _, err := svc.Authenticate(ctx, "alice#example.com", testLoginKey); err != nil {
			t.Errorf("authenticate after register: %v", err)
		}
	})

	t.Run("taken address is rejected", func(t *testing.T) {
		err := svc.Register(ctx, newRegistration("alice#example.com"))
		if !errors.Is(err, ErrAddressExists) {
			t.Errorf("expected ErrAddressExists, got %v", err)
		}
	})

	t.Run("invalid login key is rejected", func(t *testing.T) {
		req := newRegistration("bob#example.com")
		req.LoginKey = "short"
		if err := svc.Register(ctx, req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		if err := svc.Register(ctx, newRegistration("Bad#Address")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("incomplete key pairs are rejected", func(t *testing.T) {
		req := newRegistration("bob#example.com")
		req.KeyPairs = req.KeyPairs[:1]
		if err := svc.Register(ctx, req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRegisterBlocked(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	t.Run("foreign domain gets blocked challenge", func(t *testing.T) {
		err := svc.Register(ctx, newRegistration("eve#other.org"))
		if !errors.Is(err, ErrChallengeRequired) {
			t.Fatalf("expected ErrChallengeRequired, got %v", err)
		}
		ce, ok := AsChallenge(err)
		if !ok {
			t.Fatal("expected ChallengeError")
		}
		if ce.Challenge.Type != ChallengeTypeBlocked {
			t.Errorf("expected blocked challenge, got %q", ce.Challenge.Type)
		}
	})

	t.Run("blocked challenge cannot be answered", func(t *testing.T) {
		req := newRegistration("eve#other.org")
		err := svc.Register(ctx, req)
		ce, ok := AsChallenge(err)
		if !ok {
			t.Fatalf("expected ChallengeError, got %v", err)
		}

		req.Challenge = ce.Challenge
		req.ChallengeAuth = ce.Auth
		req.ChallengeAnswer = "anything"
		err = svc.Register(ctx, req)
		if !errors.Is(err, ErrChallengeFailed) {
			t.Errorf("expected ErrChallengeFailed, got %v", err)
		}
	})
}

func TestRegisterReservation(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithReservations(map[string]string{
		"vip#example.com": "sekrit",
	}))
	defer svc.Close(ctx)

	req := newRegistration("vip#example.com")

	t.Run("first attempt returns reservation challenge", func(t *testing.T) {
		err := svc.Register(ctx, req)
		if !errors.Is(err, ErrChallengeRequired) {
			t.Fatalf("expected ErrChallengeRequired, got %v", err)
		}
		ce, _ := AsChallenge(err)
		if ce.Challenge.Type != ChallengeTypeReservation {
			t.Fatalf("expected reservation challenge, got %q", ce.Challenge.Type)
		}
		if ce.Challenge.User != "vip#example.com" {
			t.Errorf("challenge bound to wrong user %q", ce.Challenge.User)
		}
		if ce.Auth == "" {
			t.Error("expected auth tag on challenge")
		}
		req.Challenge = ce.Challenge
		req.ChallengeAuth = ce.Auth
	})

	t.Run("wrong answer fails with fresh challenge", func(t *testing.T) {
		attempt := *req
		attempt.ChallengeAnswer = "wrong"
		err := svc.Register(ctx, &attempt)
		if !errors.Is(err, ErrChallengeFailed) {
			t.Fatalf("expected ErrChallengeFailed, got %v", err)
		}
		ce, ok := AsChallenge(err)
		if !ok || ce.Challenge == nil {
			t.Fatal("failure must carry a fresh challenge for retry")
		}
		if ce.Challenge.Type != ChallengeTypeReservation {
			t.Errorf("expected reservation challenge on retry, got %q", ce.Challenge.Type)
		}
	})

	t.Run("tampered auth tag fails", func(t *testing.T) {
		attempt := *req
		attempt.ChallengeAuth = flipHexDigit(req.ChallengeAuth, 0)
		attempt.ChallengeAnswer = "sekrit"
		if err := svc.Register(ctx, &attempt); !errors.Is(err, ErrChallengeFailed) {
			t.Errorf("expected ErrChallengeFailed, got %v", err)
		}
	})

	t.Run("stale challenge fails", func(t *testing.T) {
		s := svc.(*service)
		old := &Challenge{
			Type:      ChallengeTypeReservation,
			User:      "vip#example.com",
			Timestamp: uint64(time.Now().Add(-16 * time.Minute).Unix()),
			Text:      DefaultReservationText,
		}
		attempt := *req
		attempt.Challenge = old
		attempt.ChallengeAuth = challengeTag(s.opts.challengeKey, old)
		attempt.ChallengeAnswer = "sekrit"
		if err := svc.Register(ctx, &attempt); !errors.Is(err, ErrChallengeFailed) {
			t.Errorf("expected ErrChallengeFailed, got %v", err)
		}
	})

	t.Run("correct answer registers and consumes reservation", func(t *testing.T) {
		req.ChallengeAnswer = "sekrit"
		if err := svc.Register(ctx, req); err != nil {
			t.Fatalf("register: %v", err)
		}
		if _, err := svc.Authenticate(ctx, "vip#example.com", testLoginKey); err != nil {
			t.Errorf("authenticate: %v", err)
		}

		s := svc.(*service)
		if _, err := s.store.GetReservation(ctx, "vip#example.com"); !store.IsNotFound(err) {
			t.Errorf("expected reservation to be consumed, got %v", err)
		}
	})
}

func TestRegisterReservedFederatedAddress(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithReservations(map[string]string{
		"guest#other.org": "sekrit",
	}))
	defer svc.Close(ctx)

	req := newRegistration("guest#other.org")

	t.Run("reservation wins over federation block", func(t *testing.T) {
		err := svc.Register(ctx, req)
		if !errors.Is(err, ErrChallengeRequired) {
			t.Fatalf("expected ErrChallengeRequired, got %v", err)
		}
		ce, _ := AsChallenge(err)
		if ce.Challenge.Type != ChallengeTypeReservation {
			t.Fatalf("expected reservation challenge, got %q", ce.Challenge.Type)
		}
		req.Challenge = ce.Challenge
		req.ChallengeAuth = ce.Auth
	})

	t.Run("reserved federated address registers", func(t *testing.T) {
		req.ChallengeAnswer = "sekrit"
		if err := svc.Register(ctx, req); err != nil {
			t.Fatalf("register: %v", err)
		}
		if _, err := svc.Authenticate(ctx, "guest#other.org", testLoginKey); err != nil {
			t.Errorf("authenticate: %v", err)
		}
	})

	t.Run("unreserved federated address stays blocked", func(t *testing.T) {
		err := svc.Register(ctx, newRegistration("eve#other.org"))
		ce, ok := AsChallenge(err)
		if !ok {
			t.Fatalf("expected ChallengeError, got %v", err)
		}
		if ce.Challenge.Type != ChallengeTypeBlocked {
			t.Errorf("expected blocked challenge, got %q", ce.Challenge.Type)
		}
	})
}

func TestRegisterChallengeAddressBinding(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithReservations(map[string]string{
		"vip#example.com":     "sekrit",
		"mallory#example.com": "sekrit",
	}))
	defer svc.Close(ctx)

	err := svc.Register(ctx, newRegistration("vip#example.com"))
	if !errors.Is(err, ErrChallengeRequired) {
		t.Fatalf("expected ErrChallengeRequired, got %v", err)
	}
	ce, _ := AsChallenge(err)
	if ce.Challenge.User != "vip#example.com" {
		t.Fatalf("challenge bound to wrong user %q", ce.Challenge.User)
	}

	// Echo vip's valid, correctly tagged challenge under a different
	// address. The answer is correct for both reservations; only the
	// address binding can reject it.
	req := newRegistration("mallory#example.com")
	req.Challenge = ce.Challenge
	req.ChallengeAuth = ce.Auth
	req.ChallengeAnswer = "sekrit"
	if err := svc.Register(ctx, req); !errors.Is(err, ErrChallengeFailed) {
		t.Errorf("expected ErrChallengeFailed, got %v", err)
	}

	if _, err := svc.Authenticate(ctx, "mallory#example.com", testLoginKey); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected no account for mallory, got %v", err)
	}
}

func TestRegisterInviteCode(t *testing.T) {
	ctx := context.Background()
	secret := []byte("invite-master-secret")
	svc := setupTestService(t, WithInviteSecret(secret))
	defer svc.Close(ctx)

	code, err := GenerateInviteCode(secret, 33)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	answerChallenge := func(t *testing.T, address, answer string) error {
		t.Helper()
		req := newRegistration(address)
		err := svc.Register(ctx, req)
		if !errors.Is(err, ErrChallengeRequired) {
			t.Fatalf("expected ErrChallengeRequired, got %v", err)
		}
		ce, _ := AsChallenge(err)
		if ce.Challenge.Type != ChallengeTypeCode {
			t.Fatalf("expected code challenge, got %q", ce.Challenge.Type)
		}
		req.Challenge = ce.Challenge
		req.ChallengeAuth = ce.Auth
		req.ChallengeAnswer = answer
		return svc.Register(ctx, req)
	}

	t.Run("valid code registers", func(t *testing.T) {
		if err := answerChallenge(t, "alice#example.com", code); err != nil {
			t.Fatalf("register with code: %v", err)
		}
	})

	t.Run("consumed code is rejected", func(t *testing.T) {
		err := answerChallenge(t, "bob#example.com", code)
		if !errors.Is(err, ErrChallengeFailed) {
			t.Errorf("expected ErrChallengeFailed for reused code, got %v", err)
		}
	})

	t.Run("unknown code is rejected", func(t *testing.T) {
		err := answerChallenge(t, "bob#example.com", "ffffffffffffffff021")
		if !errors.Is(err, ErrChallengeFailed) {
			t.Errorf("expected ErrChallengeFailed, got %v", err)
		}
	})

	t.Run("fresh code registers another address", func(t *testing.T) {
		code2, err := GenerateInviteCode(secret, 34)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if err := answerChallenge(t, "bob#example.com", code2); err != nil {
			t.Fatalf("register: %v", err)
		}
	})
}

func TestRegisterReset(t *testing.T) {
	ctx := context.Background()

	st := memory.New()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("connect store: %v", err)
	}
	account := &store.Account{
		Address:        "carol#example.com",
		LoginKeyHash:   LoginKeyHash(testLoginKey),
		PrivateDataKey: "seeded",
		ResetCode:      "recovery123",
	}
	if err := st.CreateAccount(ctx, account, testKeyPairs()); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := st.Close(ctx); err != nil {
		t.Fatalf("close store: %v", err)
	}

	svc, err := NewService(WithStore(st), WithLocalDomain(testDomain))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	pb := svc.Client("carol#example.com")
	for range 3 {
		if _, err := pb.Create(ctx, testMessageInput()); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	req := newRegistration("carol#example.com")
	req.LoginKey = testLoginKeyAlt

	t.Run("pending reset code issues reset challenge", func(t *testing.T) {
		err := svc.Register(ctx, req)
		if !errors.Is(err, ErrChallengeRequired) {
			t.Fatalf("expected ErrChallengeRequired, got %v", err)
		}
		ce, _ := AsChallenge(err)
		if ce.Challenge.Type != ChallengeTypeReset {
			t.Fatalf("expected reset challenge, got %q", ce.Challenge.Type)
		}
		req.Challenge = ce.Challenge
		req.ChallengeAuth = ce.Auth
	})

	t.Run("wrong recovery code fails", func(t *testing.T) {
		attempt := *req
		attempt.ChallengeAnswer = "wrong"
		if err := svc.Register(ctx, &attempt); !errors.Is(err, ErrChallengeFailed) {
			t.Errorf("expected ErrChallengeFailed, got %v", err)
		}
	})

	t.Run("correct recovery code replaces credentials", func(t *testing.T) {
		req.ChallengeAnswer = "recovery123"
		if err := svc.Register(ctx, req); err != nil {
			t.Fatalf("reset: %v", err)
		}

		if _, err := svc.Authenticate(ctx, "carol#example.com", testLoginKey); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("old login key should be rejected, got %v", err)
		}
		if _, err := svc.Authenticate(ctx, "carol#example.com", testLoginKeyAlt); err != nil {
			t.Errorf("new login key rejected: %v", err)
		}
	})

	t.Run("message history survives the reset", func(t *testing.T) {
		list, err := pb.List(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if list.Total != 3 {
			t.Errorf("expected 3 messages after reset, got %d", list.Total)
		}
	})

	t.Run("reset code is single use", func(t *testing.T) {
		again := newRegistration("carol#example.com")
		err := svc.Register(ctx, again)
		if !errors.Is(err, ErrAddressExists) {
			t.Errorf("expected ErrAddressExists after reset consumed, got %v", err)
		}
	})
}
