package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/metrics"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
)

const (
	matchPrefix   = "match:"
	eventsSuffix  = ":events"
	viewersPrefix = "viewers:"

	defaultAwayTeam = "Tegenstander"
)

// MatchKey is the key holding a match snapshot.
func MatchKey(c string) string { return matchPrefix + code.Canonical(c) }

// EventsKey is the key holding a match event log.
func EventsKey(c string) string { return matchPrefix + code.Canonical(c) + eventsSuffix }

// ViewersKey is the sorted set of recent viewers of a match.
func ViewersKey(c string) string { return viewersPrefix + code.Canonical(c) }

// EventPublisher mirrors appended events onto the event bus
type EventPublisher interface {
	PublishMatchEvent(ctx context.Context, code string, event models.MatchEvent) error
}

type Config struct {
	// MatchTTL is how long a match and its event log are retained after the last write.
	MatchTTL time.Duration
	// PresenceWindow is how recently a viewer must have polled to be counted.
	PresenceWindow time.Duration
	// PresenceTTL drops the presence set after this long without viewers.
	PresenceTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MatchTTL:       24 * time.Hour,
		PresenceWindow: 15 * time.Second,
		PresenceTTL:    5 * time.Minute,
	}
}

// Repository stores matches in a store.KV.
type Repository struct {
	kv        store.KV
	clock     clockwork.Clock
	cfg       Config
	publisher EventPublisher
	metrics   metrics.MetricsCollector
	codes     *code.Generator

	// appendMu serializes read-modify-write of event logs.
	appendMu sync.Mutex
}

type Option func(*Repository)

// WithPublisher mirrors every appended event to p.
func WithPublisher(p EventPublisher) Option {
	return func(r *Repository) { r.publisher = p }
}

// WithMetrics records event log appends on m.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(r *Repository) { r.metrics = m }
}

// New creates a repository.
func New(kv store.KV, clock clockwork.Clock, cfg Config, opts ...Option) *Repository {
	r := &Repository{
		kv:      kv,
		clock:   clock,
		cfg:     cfg,
		metrics: &metrics.NoOpMetricsCollector{},
	}
	r.codes = code.NewGenerator(func(ctx context.Context, c string) (bool, error) {
		return kv.Exists(ctx, MatchKey(c))
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create assigns a free code and stores the setup snapshot with an empty
// event log.
func (r *Repository) Create(ctx context.Context, setup engine.Setup) (*models.Snapshot, error) {
	c, err := r.codes.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	now := r.clock.Now().UTC()
	setup.Code = c
	setup.CreatedAt = now

	m, err := engine.New(setup)
	if err != nil {
		return nil, err
	}
	snap := m.Snapshot(now)

	if err := r.putJSON(ctx, MatchKey(c), snap); err != nil {
		return nil, err
	}
	if err := r.putJSON(ctx, EventsKey(c), []models.MatchEvent{}); err != nil {
		return nil, err
	}

	log.Info().Str("code", c).Str("home_team", snap.HomeTeam).Str("away_team", snap.AwayTeam).Msg("created match")
	return &snap, nil
}

// GetSnapshot returns the stored snapshot.
func (r *Repository) GetSnapshot(ctx context.Context, c string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := r.getJSON(ctx, MatchKey(c), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutSnapshot replaces the snapshot of an existing match, last write wins.
func (r *Repository) PutSnapshot(ctx context.Context, c string, snap models.Snapshot) error {
	key := MatchKey(c)
	ok, err := r.kv.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("match %s: %w", code.Canonical(c), store.ErrNotFound)
	}
	snap.Code = code.Canonical(c)
	snap.Status = snap.DerivedStatus()
	snap.Viewers = 0
	return r.putJSON(ctx, key, snap)
}

// ListEvents returns the event log in append order.
func (r *Repository) ListEvents(ctx context.Context, c string) ([]models.MatchEvent, error) {
	var events []models.MatchEvent
	if err := r.getJSON(ctx, EventsKey(c), &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.MatchEvent{}
	}
	return events, nil
}

// AppendEvents adds events to the log, stamping those without a time, and
// mirrors them to the event bus. Publishing is best-effort.
func (r *Repository) AppendEvents(ctx context.Context, c string, events ...models.MatchEvent) error {
	_, err := r.appendEvents(ctx, c, events)
	return err
}

// AppendEvent adds one event and returns it as stored.
func (r *Repository) AppendEvent(ctx context.Context, c string, ev models.MatchEvent) (models.MatchEvent, error) {
	stamped, err := r.appendEvents(ctx, c, []models.MatchEvent{ev})
	if err != nil {
		return models.MatchEvent{}, err
	}
	return stamped[0], nil
}

func (r *Repository) appendEvents(ctx context.Context, c string, events []models.MatchEvent) ([]models.MatchEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	c = code.Canonical(c)
	key := EventsKey(c)

	now := r.clock.Now().UTC()
	stamped := make([]models.MatchEvent, len(events))
	for i, ev := range events {
		if ev.At.IsZero() {
			ev.At = now
		}
		stamped[i] = ev
	}

	r.appendMu.Lock()
	stored, err := r.ListEvents(ctx, c)
	if err == nil {
		err = r.putJSON(ctx, key, append(stored, stamped...))
	}
	r.appendMu.Unlock()

	r.metrics.RecordEventsAppended(len(stamped), err == nil)
	if err != nil {
		return nil, err
	}

	if r.publisher != nil {
		for _, ev := range stamped {
			if perr := r.publisher.PublishMatchEvent(ctx, c, ev); perr != nil {
				log.Warn().Err(perr).Str("code", c).Str("event_type", string(ev.Type)).Msg("failed to publish match event")
			}
		}
	}
	return stamped, nil
}

// TouchViewer records a poll by viewerID and returns the current viewer count.
func (r *Repository) TouchViewer(ctx context.Context, c, viewerID string) (int, error) {
	key := ViewersKey(c)
	now := r.clock.Now()
	if err := r.kv.ZAdd(ctx, key, float64(now.UnixMilli()), viewerID); err != nil {
		return 0, fmt.Errorf("add viewer: %w", err)
	}
	if err := r.kv.Expire(ctx, key, r.cfg.PresenceTTL); err != nil {
		return 0, fmt.Errorf("expire viewers: %w", err)
	}
	return r.ViewerCount(ctx, c)
}

// ViewerCount counts viewers seen within the presence window.
func (r *Repository) ViewerCount(ctx context.Context, c string) (int, error) {
	key := ViewersKey(c)
	cutoff := r.clock.Now().Add(-r.cfg.PresenceWindow)
	if err := r.kv.ZRemRangeByScore(ctx, key, 0, float64(cutoff.UnixMilli())); err != nil {
		return 0, fmt.Errorf("trim viewers: %w", err)
	}
	return r.kv.ZCard(ctx, key)
}

var liveOrder = map[models.MatchStatus]int{
	models.MatchStatusLive:     0,
	models.MatchStatusPaused:   1,
	models.MatchStatusHalftime: 2,
	models.MatchStatusSetup:    3,
}

// Live lists matches that have not ended: live first, then paused,
// halftime and setup, newest first within each group. Unreadable entries
// are skipped.
func (r *Repository) Live(ctx context.Context) ([]models.MatchSummary, error) {
	keys, err := r.kv.Scan(ctx, matchPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan matches: %w", err)
	}

	matches := make([]models.MatchSummary, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, eventsSuffix) {
			continue
		}
		var snap models.Snapshot
		if err := r.getJSON(ctx, key, &snap); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("skipping unreadable match")
			continue
		}
		status := snap.DerivedStatus()
		if status == models.MatchStatusEnded {
			continue
		}
		c := strings.TrimPrefix(key, matchPrefix)
		viewers, err := r.ViewerCount(ctx, c)
		if err != nil {
			viewers = 0
		}
		away := snap.AwayTeam
		if away == "" {
			away = defaultAwayTeam
		}
		matches = append(matches, models.MatchSummary{
			Code:        c,
			HomeTeam:    snap.HomeTeam,
			AwayTeam:    away,
			HomeScore:   snap.HomeScore,
			AwayScore:   snap.AwayScore,
			Status:      status,
			CurrentHalf: snap.CurrentHalf,
			Viewers:     viewers,
			CreatedAt:   snap.CreatedAt,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := liveOrder[matches[i].Status], liveOrder[matches[j].Status]
		if a != b {
			return a < b
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

// Delete removes a match, its event log and its presence set.
func (r *Repository) Delete(ctx context.Context, c string) error {
	for _, key := range []string{MatchKey(c), EventsKey(c), ViewersKey(c)} {
		if err := r.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	log.Info().Str("code", code.Canonical(c)).Msg("deleted match")
	return nil
}

func (r *Repository) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Repository) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.kv.Set(ctx, key, data, r.cfg.MatchTTL); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
