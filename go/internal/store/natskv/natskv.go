// Package natskv implements store.KV on a NATS JetStream key-value bucket.
//
// Bucket keys cannot contain ':', so "match:K7QP:events" is stored as
// "match.K7QP.events". Values are wrapped in a small JSON record that
// carries the per-key expiry; the bucket TTL bounds how long anything
// survives.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/store"
)

const (
	kindValue = "v"
	kindSet   = "z"

	maxUpdateAttempts = 5
)

var (
	// ErrWrongType is returned when a plain key is used as a sorted set or the other way around
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
	// ErrConflict is returned when a sorted-set update keeps losing the revision race
	ErrConflict = errors.New("too many concurrent updates")
)

type Config struct {
	Bucket string
	// MaxAge is the bucket TTL.
	MaxAge time.Duration
	// Replicas for the underlying stream.
	Replicas int
}

func DefaultConfig() Config {
	return Config{
		Bucket:   "WISSEL",
		MaxAge:   24 * time.Hour,
		Replicas: 1,
	}
}

type record struct {
	Kind      string             `json:"k"`
	Value     []byte             `json:"v,omitempty"`
	Set       map[string]float64 `json:"z,omitempty"`
	ExpiresAt *time.Time         `json:"exp,omitempty"`
}

func (r *record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Bucket is the part of jetstream.KeyValue the store uses.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Store is a store.KV backed by one JetStream bucket.
type Store struct {
	kv    Bucket
	clock clockwork.Clock
}

var _ store.KV = (*Store)(nil)

// Open creates or updates the bucket and returns a store on it.
func Open(ctx context.Context, js jetstream.JetStream, cfg Config, clock clockwork.Clock) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Match snapshots, event logs and viewer presence",
		TTL:         cfg.MaxAge,
		History:     1,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create key value bucket %s: %w", cfg.Bucket, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Dur("max_age", cfg.MaxAge).Msg("opened JetStream key value bucket")
	return New(kv, clock), nil
}

// New wraps an existing bucket.
func New(kv Bucket, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{kv: kv, clock: clock}
}

func encodeKey(key string) string { return strings.ReplaceAll(key, ":", ".") }

func decodeKey(key string) string { return strings.ReplaceAll(key, ".", ":") }

func (s *Store) deadline(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.clock.Now().Add(ttl).UTC()
	return &t
}

// load returns the live record for key with its revision. Expired records
// are reported as missing.
func (s *Store) load(ctx context.Context, key string) (*record, uint64, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	var r record
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	if r.expired(s.clock.Now()) {
		return nil, entry.Revision(), store.ErrNotFound
	}
	return &r, entry.Revision(), nil
}

func (s *Store) put(ctx context.Context, key string, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.kv.Put(ctx, encodeKey(key), data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// update applies fn with optimistic concurrency on the key's revision.
// fn receives nil when the key is missing or expired. Keys that do not
// exist yet are created, so a racing first writer forces a retry.
func (s *Store) update(ctx context.Context, key string, fn func(r *record) (*record, error)) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, rev, err := s.load(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}

		if rev == 0 {
			_, err = s.kv.Create(ctx, encodeKey(key), data)
		} else {
			_, err = s.kv.Update(ctx, encodeKey(key), data, rev)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			var apiErr *jetstream.APIError
			if !errors.As(err, &apiErr) || apiErr.ErrorCode != jetstream.JSErrCodeStreamWrongLastSequence {
				return fmt.Errorf("update %s: %w", key, err)
			}
		}
		log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("revision changed, retrying update")
	}
	return fmt.Errorf("update %s: %w", key, ErrConflict)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, _, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if r.Kind != kindValue {
		return nil, ErrWrongType
	}
	return r.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.put(ctx, key, &record{Kind: kindValue, Value: value, ExpiresAt: s.deadline(ttl)})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, _, err := s.load(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var out []string
	for _, k := range keys {
		key := decodeKey(k)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		live, err := s.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if live {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.update(ctx, key, func(r *record) (*record, error) {
		if r == nil {
			r = &record{Kind: kindSet}
		}
		if r.Kind != kindSet {
			return nil, ErrWrongType
		}
		if r.Set == nil {
			r.Set = make(map[string]float64)
		}
		r.Set[member] = score
		return r, nil
	})
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.update(ctx, key, func(r *record) (*record, error) {
		if r == nil {
			return nil, nil
		}
		if r.Kind != kindSet {
			return nil, ErrWrongType
		}
		removed := false
		for m, score := range r.Set {
			if score >= min && score <= max {
				delete(r.Set, m)
				removed = true
			}
		}
		if !removed {
			return nil, nil
		}
		return r, nil
	})
}

func (s *Store) ZCard(ctx context.Context, key string) (int, error) {
	r, _, err := s.load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if r.Kind != kindSet {
		return 0, ErrWrongType
	}
	return len(r.Set), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var missing bool
	err := s.update(ctx, key, func(r *record) (*record, error) {
		if r == nil {
			missing = true
			return nil, nil
		}
		r.ExpiresAt = s.deadline(ttl)
		return r, nil
	})
	if err != nil {
		return err
	}
	if missing {
		return store.ErrNotFound
	}
	return nil
}
