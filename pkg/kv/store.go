package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrWrongType is returned when a key holds a value of another kind
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// Store defines the interface for a Redis-like key-value store
type Store interface {
	// String operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Counter operations
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// List operations
	LPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}
