package postbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for postbox events.
const (
	EventNameAccountRegistered = "postbox.account.registered"
	EventNameCredentialsReset  = "postbox.account.reset"
	EventNameMessageStored     = "postbox.message.stored"
	EventNameMessageDeleted    = "postbox.message.deleted"
	EventNamePushRegistered    = "postbox.push.registered"
)

// AccountRegisteredEvent is published when a new account is created.
type AccountRegisteredEvent struct {
	Address      string    `json:"address"`
	Language     string    `json:"language,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CredentialsResetEvent is published when an account's credentials are
// replaced through the reset challenge.
type CredentialsResetEvent struct {
	Address string    `json:"address"`
	ResetAt time.Time `json:"reset_at"`
}

// MessageStoredEvent is published when a message lands in an account.
// Push notification workers subscribe to this to wake recipient devices.
type MessageStoredEvent struct {
	Address        string    `json:"address"`
	MessageID      uint32    `json:"message_id"`
	HasAttachments bool      `json:"has_attachments"`
	Authenticated  bool      `json:"authenticated"`
	StoredAt       time.Time `json:"stored_at"`
}

// MessageDeletedEvent is published when a message is tombstoned.
type MessageDeletedEvent struct {
	Address   string    `json:"address"`
	MessageID uint32    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// PushRegisteredEvent is published when a push token is registered.
type PushRegisteredEvent struct {
	Address      string    `json:"address"`
	Environment  string    `json:"environment"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ServiceEvents provides access to per-service event instances. Each
// service binds its own events to its own bus, so multiple services in
// one process route events independently.
//
// Subscribe to events:
//
//	svc.Events().MessageStored.Subscribe(ctx, handler)
type ServiceEvents struct {
	AccountRegistered event.Event[AccountRegisteredEvent]
	CredentialsReset  event.Event[CredentialsResetEvent]
	MessageStored     event.Event[MessageStoredEvent]
	MessageDeleted    event.Event[MessageDeletedEvent]
	PushRegistered    event.Event[PushRegisteredEvent]
}

// newServiceEvents creates per-service event instances with a unique name
// prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		AccountRegistered: event.New[AccountRegisteredEvent](namePrefix + "." + EventNameAccountRegistered),
		CredentialsReset:  event.New[CredentialsResetEvent](namePrefix + "." + EventNameCredentialsReset),
		MessageStored:     event.New[MessageStoredEvent](namePrefix + "." + EventNameMessageStored),
		MessageDeleted:    event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
		PushRegistered:    event.New[PushRegisteredEvent](namePrefix + "." + EventNamePushRegistered),
	}
}

// registerServiceEvents binds per-service events to the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.AccountRegistered); err != nil {
		return fmt.Errorf("register AccountRegistered: %w", err)
	}
	if err := event.Register(ctx, bus, events.CredentialsReset); err != nil {
		return fmt.Errorf("register CredentialsReset: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageStored); err != nil {
		return fmt.Errorf("register MessageStored: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.PushRegistered); err != nil {
		return fmt.Errorf("register PushRegistered: %w", err)
	}
	return nil
}

// publish runs an event publish func, honoring the eventErrorsFatal
// setting: failures either surface as EventPublishError or go to the
// failure handler.
func (s *service) publish(_ context.Context, name string, fn func() error) error {
	if err := fn(); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: name, Err: err}
		}
		s.opts.safeEventPublishFailure(name, err)
	}
	return nil
}
