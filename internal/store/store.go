package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// KV is the narrow store contract the core depends on. Every operation is
// individually atomic; there are no multi-key transactions, so any invariant
// spanning several calls has to survive interleaving and partial writes.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRevRangeByScore returns up to count members with score <= max
	// (strictly less when exclusive), highest score first. Equal scores come
	// back in the store's member order, which callers must not treat as
	// meaningful.
	ZRevRangeByScore(ctx context.Context, key string, max float64, exclusive bool, count int64) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Type reports the structural kind of the value at key: "none", "string",
	// "hash", "zset" or "set". Used by self-healing writers to reset corrupt
	// keys.
	Type(ctx context.Context, key string) (string, error)
}
