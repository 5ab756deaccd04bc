package mongo

import (
	"log/slog"
	"time"
)

const (
	// DefaultDatabase is the default database name.
	DefaultDatabase = "postbox"
	// DefaultTimeout is the default per-operation timeout.
	DefaultTimeout = 10 * time.Second
)

type options struct {
	database string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures the MongoDB store.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		database: DefaultDatabase,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
