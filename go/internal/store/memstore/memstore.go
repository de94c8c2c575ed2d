// Package memstore is an in-process store.KV. Expiry is evaluated lazily
// against the injected clock.
package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/wissel/go/internal/store"
)

// ErrWrongType is returned when a plain key is used as a sorted set or the
// other way around
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

type entry struct {
	value     []byte
	set       map[string]float64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a mutex-guarded map of entries.
type Store struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

var _ store.KV = (*Store)(nil)

// New creates an empty store. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

// live returns the entry for key, dropping it when it has expired. The
// caller holds mu.
func (s *Store) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil, store.ErrNotFound
	}
	if e.set != nil {
		return nil, ErrWrongType
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = &entry{value: v, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(key) != nil, nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) && s.live(k) != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{set: make(map[string]float64)}
		s.entries[key] = e
	}
	if e.set == nil {
		return ErrWrongType
	}
	e.set[member] = score
	return nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil
	}
	if e.set == nil {
		return ErrWrongType
	}
	for m, score := range e.set {
		if score >= min && score <= max {
			delete(e.set, m)
		}
	}
	return nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	if e.set == nil {
		return 0, ErrWrongType
	}
	return len(e.set), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return store.ErrNotFound
	}
	e.expiresAt = s.deadline(ttl)
	return nil
}
