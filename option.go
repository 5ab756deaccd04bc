package postbox

import (
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/postbox/store"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second

	// DefaultMaxListLimit caps the number of full messages per list call.
	DefaultMaxListLimit = 100

	// DefaultInlineAttachmentLimit is the attachment size above which the
	// bundle is off-loaded to the attachment store when one is configured.
	DefaultInlineAttachmentLimit = 1 << 20

	// DefaultMaxConcurrentDeliveries bounds concurrent message creation.
	DefaultMaxConcurrentDeliveries = 10
)

// options holds postbox service configuration.
type options struct {
	store       store.Store
	attachments store.AttachmentFileStore
	logger      *slog.Logger

	// Registration
	localDomain    string
	challengeKey   []byte
	inviteSecret   []byte
	challengeTexts map[string]string
	reservations   map[string]string

	// Limits
	maxListLimit            int
	inlineAttachmentLimit   int
	maxConcurrentDeliveries int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// EventPublishFailureFunc is called when an event fails to publish and
// event errors are not fatal.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                  slog.Default(),
		challengeTexts:          make(map[string]string),
		maxListLimit:            DefaultMaxListLimit,
		inlineAttachmentLimit:   DefaultInlineAttachmentLimit,
		maxConcurrentDeliveries: DefaultMaxConcurrentDeliveries,
		shutdownTimeout:         DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Without a configured key, challenges are only verifiable by this
	// process instance.
	if len(o.challengeKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err == nil {
			o.challengeKey = key
		}
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a postbox service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithAttachmentStore sets the blob store for off-loading large attachment
// bundles. Without one, attachments are kept inline in the message store.
func WithAttachmentStore(a store.AttachmentFileStore) Option {
	return func(o *options) {
		if a != nil {
			o.attachments = a
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Registration Options ---

// WithLocalDomain sets the domain this service registers addresses for.
// Registration requests for other domains receive a blocked challenge.
func WithLocalDomain(domain string) Option {
	return func(o *options) {
		o.localDomain = domain
	}
}

// WithChallengeKey sets the HMAC key for challenge integrity tags. All
// instances serving the same domain must share it; when unset, a random
// per-process key is generated.
func WithChallengeKey(key []byte) Option {
	return func(o *options) {
		if len(key) > 0 {
			o.challengeKey = key
		}
	}
}

// WithInviteSecret enables invite-code gated registration. Codes are
// derived from the secret with GenerateInviteCode.
func WithInviteSecret(secret []byte) Option {
	return func(o *options) {
		if len(secret) > 0 {
			o.inviteSecret = secret
		}
	}
}

// WithChallengeText overrides the prompt text for a challenge type.
func WithChallengeText(challengeType, text string) Option {
	return func(o *options) {
		if challengeType != "" && text != "" {
			o.challengeTexts[challengeType] = text
		}
	}
}

// WithReservations seeds address reservations into the store on Connect.
// See ReadReservations for loading them from CSV.
func WithReservations(reservations map[string]string) Option {
	return func(o *options) {
		if len(reservations) > 0 {
			o.reservations = reservations
		}
	}
}

// --- Limit Options ---

// WithMaxListLimit caps the number of messages returned per list call.
func WithMaxListLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxListLimit = n
		}
	}
}

// WithInlineAttachmentLimit sets the attachment size above which bundles
// are off-loaded to the attachment store.
func WithInlineAttachmentLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inlineAttachmentLimit = n
		}
	}
}

// WithMaxConcurrentDeliveries bounds concurrent message creation to
// prevent resource exhaustion under ingestion bursts.
func WithMaxConcurrentDeliveries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentDeliveries = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close waits for in-flight
// deliveries. Default is 30 seconds, minimum 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables OpenTelemetry tracing. Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables OpenTelemetry metrics. Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and event bus
// naming. Default is "postbox".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider. Default uses the
// global provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider. Default uses the global
// provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal makes event publishing failures fail the operation.
// By default failures are reported to the failure handler and the
// operation succeeds.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport. When neither a transport
// nor a Redis client is provided, a noop transport is used and events are
// dropped.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport. Events are
// then published to Redis Streams.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for non-fatal event
// publishing failures. Default logs with the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
