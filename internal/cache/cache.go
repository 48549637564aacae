// Package cache records processed webhook event ids so gateway redeliveries
// are recognised. Memory is for development and tests, redis for multi-node
// deployments.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Client is the dedupe store consumed by the webhook path.
type Client interface {
	// Seen reports whether key was marked and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key for ttl. A zero ttl never expires.
	Mark(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver    string // "memory" | "redis"
	RedisAddr string
	RedisDB   int
	Password  string
	Prefix    string
}

// New builds a client for cfg.Driver.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("cache: unsupported driver %q", cfg.Driver)
	}
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}
