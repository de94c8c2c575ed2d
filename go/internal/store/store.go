// Package store is the key-value contract matches are kept in.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired
var ErrNotFound = errors.New("not found")

// KV is a key-value store with expiring keys and a small sorted-set
// primitive. A ttl of zero keeps a key until it is deleted.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Scan returns every live key that starts with prefix, in no particular order.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// ZAdd sets the score of member, creating the set when needed.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members with min <= score <= max.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard counts the members of a set. A missing set has zero members.
	ZCard(ctx context.Context, key string) (int, error)
	// Expire sets a new ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
