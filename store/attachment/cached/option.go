package cached

import (
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultMaxSize is the default cache size limit.
	DefaultMaxSize = 1 << 30
	// DefaultTTL is the default cache entry lifetime.
	DefaultTTL = 24 * time.Hour
)

type options struct {
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures the cached store.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  DefaultMaxSize,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithCacheDir sets the parent directory for the cache.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.cacheDir = dir
		}
	}
}

// WithMaxSize sets the cache size limit in bytes.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets the cache entry lifetime. Zero disables expiry cleanup.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
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
