package filecache

import (
	"fmt"
	"time"
)

// Config holds the tunables of a Cache. Read-only after construction.
type Config struct {
	// Path is the cache root directory.
	Path string

	// MaxAge is the age, in minutes, past which an entry's access time
	// makes it eligible for age-based eviction.
	MaxAge int

	// MaxSize is the aggregate size ceiling, in bytes, enforced by
	// size-based eviction.
	MaxSize int64

	// MaxFileSize is the upper bound, in bytes, on any single cached
	// file. A negative value disables the check.
	MaxFileSize int64

	// Timeout applies to remote reads.
	Timeout time.Duration

	// MimeTypes is the set of permitted MIME types. An empty set means
	// no restriction.
	MimeTypes map[string]bool

	// BindIP, if set, forces remote connections to the URL's host:port
	// onto this IP, preserving the Host header.
	BindIP string
}

// Option overlays a single field of Config.
type Option func(*Config)

// WithMaxAge overrides MaxAge.
func WithMaxAge(minutes int) Option {
	return func(c *Config) { c.MaxAge = minutes }
}

// WithMaxSize overrides MaxSize.
func WithMaxSize(bytes int64) Option {
	return func(c *Config) { c.MaxSize = bytes }
}

// WithMaxFileSize overrides MaxFileSize. Negative disables the check.
func WithMaxFileSize(bytes int64) Option {
	return func(c *Config) { c.MaxFileSize = bytes }
}

// WithTimeout overrides Timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithMimeTypes overrides the MIME allow-set.
func WithMimeTypes(types ...string) Option {
	return func(c *Config) {
		c.MimeTypes = make(map[string]bool, len(types))
		for _, t := range types {
			c.MimeTypes[t] = true
		}
	}
}

// WithBindIP forces remote connections to the URL's host:port onto the
// given IP.
func WithBindIP(ip string) Option {
	return func(c *Config) { c.BindIP = ip }
}

// DefaultConfig returns the host's default configuration for path.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:        path,
		MaxAge:      60 * 24,
		MaxSize:     1 << 30,
		MaxFileSize: -1,
		Timeout:     30 * time.Second,
	}
}

// NewConfig builds a Config for path, applying opts over the defaults.
func NewConfig(path string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig(path)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("filecache: cache path is empty")
	}
	if cfg.MaxAge < 0 {
		return nil, fmt.Errorf("filecache: max age must be >= 0")
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("filecache: max size must be >= 0")
	}
	return cfg, nil
}

// allowsMime reports whether mimeType is permitted by the configured
// allow-set. An empty set permits everything.
func (c *Config) allowsMime(mimeType string) bool {
	if len(c.MimeTypes) == 0 {
		return true
	}
	return c.MimeTypes[mimeType]
}
