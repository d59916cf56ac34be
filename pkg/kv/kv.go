package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached or the
// operation could not complete. Callers must treat it as retryable and never
// interpret it as "zero counters".
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is the keyed-store capability contract the counter layer is built on:
// hash-field counters, bounded lists, sets, and per-key TTL.
//
// Implementations: memory (testing, development), badger (production).
type Store interface {
	// HIncrBy atomically increments an integer hash field, creating the key
	// and field at zero if absent.
	HIncrBy(ctx context.Context, key, field string, delta int64) error

	// HIncrByFloat is the float-safe variant of HIncrBy.
	HIncrByFloat(ctx context.Context, key, field string, delta float64) error

	// HGetAll returns the full field snapshot of a hash key. A missing or
	// expired key yields an empty map, not an error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// LPush prepends a value to a list, creating the list if absent.
	LPush(ctx context.Context, key, value string) error

	// LTrim keeps only the elements in [start, stop] (inclusive, 0-based).
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange returns the elements in [start, stop] (inclusive, 0-based).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// SAdd adds a member to a set, creating the set if absent.
	SAdd(ctx context.Context, key, member string) error

	// SRem removes a member from a set. Missing members are a no-op.
	SRem(ctx context.Context, key, member string) error

	// SMembers returns all members of a set; empty slice if the set is absent.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SetEx stores a plain value with a TTL, refreshing the TTL if the key
	// already exists. Used for session liveness markers.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether a key currently exists (and has not expired).
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a TTL on an existing key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Close cleanly shuts down the store.
	Close() error
}
