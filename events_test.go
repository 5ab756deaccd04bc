package postbox

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/postbox/store/memory"
)

func TestEventsDefaultTransport(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	if svc.Events() == nil {
		t.Fatal("expected non-nil events after connect")
	}

	// Publishing to the noop transport must not fail operations.
	registerTestAccount(t, svc, "alice#example.com")
	pb := svc.Client("alice#example.com")
	if _, err := pb.Create(ctx, testMessageInput()); err != nil {
		t.Errorf("create: %v", err)
	}
}

func TestEventsRedisTransport(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Fatal event errors make any silent publish failure visible below.
	svc, err := NewService(
		WithStore(memory.New()),
		WithLocalDomain(testDomain),
		WithRedisClient(client),
		WithEventErrorsFatal(true),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	if err := svc.Register(ctx, newRegistration("alice#example.com")); err != nil {
		t.Fatalf("register: %v", err)
	}

	pb := svc.Client("alice#example.com")
	msg, err := pb.Create(ctx, testMessageInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := pb.Delete(ctx, msg.ID, msg.LastModified); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := pb.RegisterPush(ctx, &PushToken{
		RegistrationToken: "device1:tok",
		Environment:       PushEnvAndroid,
	}); err != nil {
		t.Fatalf("register push: %v", err)
	}
}

func TestEventPublishFailureHandlerPanicRecovery(t *testing.T) {
	o := newOptions(
		WithEventPublishFailureHandler(func(string, error) {
			panic("handler exploded")
		}),
	)
	// Must not propagate the panic.
	o.safeEventPublishFailure("Test", context.Canceled)
}

func TestServiceEventsAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := setupTestService(t)
	defer a.Close(ctx)
	b := setupTestService(t)
	defer b.Close(ctx)

	if a.Events() == b.Events() {
		t.Error("expected per-service event instances")
	}
}
