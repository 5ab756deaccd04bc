package postbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/rbaliyan/postbox/store"
)

// Type aliases for commonly used store types. These allow users to work
// with the postbox package without importing store directly.
type (
	Message      = store.Message
	MessageList  = store.MessageList
	MessageMeta  = store.MessageMeta
	ProfileEntry = store.ProfileEntry
	ProfileMeta  = store.ProfileMeta
	PushToken    = store.PushToken
	KeyPair      = store.KeyPair
)

// Re-exported key pair type constants.
const (
	KeyTypeEncryption = store.KeyTypeEncryption
	KeyTypeSignature  = store.KeyTypeSignature
)

// Re-exported push environment constants.
const (
	PushEnvAndroid = store.PushEnvAndroid
	PushEnvIOS     = store.PushEnvIOS
)

// ListOptions controls message listing.
type ListOptions struct {
	// ModifiedAfter filters to entries with a strictly greater stamp.
	ModifiedAfter uint64
	// IncludeData returns full message payloads instead of id/stamp pairs.
	IncludeData bool
	// Limit caps the number of returned messages; 0 means the service
	// maximum. The Total count is unaffected.
	Limit int
}

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the postbox system (server-side). It owns the storage
// connection, the registration handshake, and hands out per-account
// clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close drains in-flight deliveries and closes all connections.
	Close(ctx context.Context) error

	// Register runs the registration handshake. See the method
	// documentation on RegistrationRequest for the challenge flow.
	Register(ctx context.Context, req *RegistrationRequest) error

	// Authenticate verifies an address/login-key pair and returns a
	// client for the account. Every failure cause collapses to
	// ErrUnauthorized.
	Authenticate(ctx context.Context, address, loginKey string) (Postbox, error)

	// Client returns a client for the given address without credential
	// checks. For trusted callers that authenticate out of band.
	Client(address string) Postbox

	// Deliver stores a message for a recipient on behalf of an anonymous
	// sender. Meta is discarded and no message identifiers are revealed.
	Deliver(ctx context.Context, recipient string, in *MessageInput) error

	// Events returns per-service event instances for subscribing.
	Events() *ServiceEvents
}

// MessageOperations provides access to an account's messages.
type MessageOperations interface {
	// Create stores a message and returns it with id and stamp assigned.
	Create(ctx context.Context, in *MessageInput) (*Message, error)
	// Get retrieves a single message, tombstones included.
	Get(ctx context.Context, id uint32) (*Message, error)
	// List returns messages in creation order.
	List(ctx context.Context, opts ListOptions) (*MessageList, error)
	// UpdateMeta replaces a message's meta if lastModified still matches.
	UpdateMeta(ctx context.Context, id uint32, lastModified uint64, meta []byte) (*MessageMeta, error)
	// Delete tombstones a message if lastModified still matches.
	Delete(ctx context.Context, id uint32, lastModified uint64) (*MessageMeta, error)
	// Attachments streams the encrypted attachment bundle.
	Attachments(ctx context.Context, id uint32) (io.ReadCloser, error)
}

// ProfileOperations provides access to an account's profile entries.
type ProfileOperations interface {
	// Profile lists entries modified after the given stamp.
	Profile(ctx context.Context, modifiedAfter uint64) ([]*ProfileEntry, error)
	// SetProfile creates or updates an entry under CAS. Pass 0 for a new
	// entry.
	SetProfile(ctx context.Context, key string, value []byte, lastModified uint64) (*ProfileMeta, error)
}

// PushOperations provides access to an account's push registrations.
type PushOperations interface {
	RegisterPush(ctx context.Context, token *PushToken) error
	DeletePush(ctx context.Context, registrationToken string) error
	PushTokens(ctx context.Context) ([]*PushToken, error)
}

// Postbox is an account-scoped client. All operations act on the messages,
// profile, and push registrations of one address.
type Postbox interface {
	Address() string
	MessageOperations
	ProfileOperations
	PushOperations
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	logger   *slog.Logger
	opts     *options
	state    int32
	otel     *otelInstrumentation
	storeSem *semaphore.Weighted // bounds concurrent message creation
	eventBus *event.Bus
	events   *ServiceEvents
}

var _ Service = (*service)(nil)

// NewService creates a new postbox service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:    o.store,
		logger:   o.logger,
		opts:     o,
		otel:     otelInstr,
		storeSem: semaphore.NewWeighted(int64(o.maxConcurrentDeliveries)),
	}, nil
}

// Events returns per-service event instances for subscribing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Three-state transition keeps Client() from observing partial
	// initialization.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.seedReservations(ctx); err != nil {
		s.store.Close(ctx)
		return err
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("postbox service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service. Each service
// gets its own uniquely named bus with its own event instances.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "postbox"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close drains in-flight deliveries and closes connections.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new deliveries can start once the state flips; acquiring every
	// semaphore slot waits out the in-flight ones.
	s.logger.Info("waiting for in-flight deliveries", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.storeSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentDeliveries)); err != nil {
		s.logger.Warn("timeout waiting for in-flight deliveries", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.storeSem.Release(int64(s.opts.maxConcurrentDeliveries))
	}

	// The noop bus holds no resources; closing it would unbind events
	// shared with other services in the process.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a client for the given address without credential checks.
func (s *service) Client(address string) Postbox {
	addr, err := ParseAddress(address)
	return &client{
		address: addr,
		raw:     address,
		service: s,
		valid:   err == nil,
	}
}

// client is the default implementation of Postbox.
type client struct {
	address Address
	raw     string
	service *service
	valid   bool
}

var _ Postbox = (*client)(nil)

// Address returns the account address this client operates on.
func (c *client) Address() string {
	return c.raw
}

// checkAccess validates client and service state before an operation.
func (c *client) checkAccess() error {
	if !c.valid {
		return &ValidationError{Field: "address", Message: "invalid address"}
	}
	if atomic.LoadInt32(&c.service.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}
