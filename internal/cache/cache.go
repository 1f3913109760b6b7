// Package cache provides a small byte-value cache abstraction with two backends:
//
//   - Memory (in-process, dev/testing)
//   - Redis (shared, production)
//
// The embedded authorization server keeps pending authorization codes here.
package cache

import (
	"context"
	"time"
)

// Client defines the cache operations used by the service.
type Client interface {
	// Get returns the value for key. The second return is false when the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key with the given TTL. A zero TTL means the
	// backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver     string // "memory" | "redis"
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

// New builds a Client from config. Unknown drivers fall back to memory.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	}
}
