// Package viewer follows a match from the outside. It polls the stored
// snapshot and event log and replays the clocks locally between polls.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/clock"
	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/metrics"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
)

// ErrMatchGone is returned by Run once the match no longer exists
var ErrMatchGone = errors.New("match no longer exists")

// Source is the read side of the remote store.
type Source interface {
	GetSnapshot(ctx context.Context, code string) (*models.Snapshot, error)
	ListEvents(ctx context.Context, code string) ([]models.MatchEvent, error)
}

type Config struct {
	PollInterval time.Duration
	// Timeout bounds one poll, snapshot and events together.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Timeout:      4 * time.Second,
	}
}

type Option func(*Projection)

// OnNewEvents registers fn to receive events not seen in earlier polls.
func OnNewEvents(fn func([]models.MatchEvent)) Option {
	return func(p *Projection) { p.onNewEvents = fn }
}

// OnUpdate registers fn to receive every successfully fetched snapshot.
func OnUpdate(fn func(models.Snapshot)) Option {
	return func(p *Projection) { p.onUpdate = fn }
}

// WithMetrics records poll outcomes on m.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(p *Projection) { p.metrics = m }
}

// Projection is a read-only view of one match.
type Projection struct {
	source  Source
	code    string
	clock   clockwork.Clock
	cfg     Config
	metrics metrics.MetricsCollector

	onNewEvents func([]models.MatchEvent)
	onUpdate    func(models.Snapshot)

	mu         sync.RWMutex
	snap       *models.Snapshot
	events     []models.MatchEvent
	matchClock clock.Segment
	subClock   clock.Segment
	lastErr    error
	gone       bool
}

// New creates a projection of the match with the given code.
func New(source Source, matchCode string, clk clockwork.Clock, cfg Config, opts ...Option) *Projection {
	p := &Projection{
		source:  source,
		code:    code.Canonical(matchCode),
		clock:   clk,
		cfg:     cfg,
		metrics: &metrics.NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Code returns the canonical match code.
func (p *Projection) Code() string { return p.code }

// Run polls immediately and then every PollInterval until ctx is cancelled
// or the match disappears.
func (p *Projection) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); errors.Is(err, ErrMatchGone) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Poll fetches the snapshot and event log once. On failure the last good
// state is kept and the error is returned and remembered.
func (p *Projection) Poll(ctx context.Context) error {
	start := p.clock.Now()
	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	snap, err := p.source.GetSnapshot(pctx, p.code)
	var events []models.MatchEvent
	if err == nil {
		events, err = p.source.ListEvents(pctx, p.code)
	}
	p.metrics.RecordViewerPoll(err == nil, p.clock.Since(start))

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%s: %w", p.code, ErrMatchGone)
		}
		p.mu.Lock()
		p.lastErr = err
		p.gone = errors.Is(err, ErrMatchGone)
		p.mu.Unlock()
		log.Debug().Err(err).Str("code", p.code).Msg("viewer poll failed")
		return err
	}

	p.mu.Lock()
	seen := len(p.events)
	var fresh []models.MatchEvent
	if len(events) > seen {
		fresh = append(fresh, events[seen:]...)
	}
	p.snap = snap
	p.events = events
	p.matchClock, p.subClock = engine.Clocks(snap)
	p.lastErr = nil
	p.gone = false
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(*snap)
	}
	if len(fresh) > 0 && p.onNewEvents != nil {
		p.onNewEvents(fresh)
	}
	return nil
}

// Snapshot returns the last fetched snapshot, or false before the first
// successful poll.
func (p *Projection) Snapshot() (models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return models.Snapshot{}, false
	}
	return *p.snap, true
}

// Events returns the last fetched event log.
func (p *Projection) Events() []models.MatchEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.MatchEvent(nil), p.events...)
}

// Err returns the error of the latest poll, nil if it succeeded.
func (p *Projection) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Gone reports whether the latest poll found the match missing.
func (p *Projection) Gone() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gone
}

// Elapsed returns the match clock at now. Between polls it never runs past
// the end of the current half.
func (p *Projection) Elapsed(now time.Time) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return 0
	}
	e := p.matchClock.Elapsed(now)
	if limit := engine.HalfOffset(p.snap) + p.snap.HalfDurationSeconds; p.snap.Clocking() && e > limit {
		return limit
	}
	return e
}

// ElapsedInHalf returns the seconds played in the current half at now.
func (p *Projection) ElapsedInHalf(now time.Time) int {
	total := p.Elapsed(now)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return 0
	}
	if e := total - engine.HalfOffset(p.snap); e > 0 {
		return e
	}
	return 0
}

// SubElapsed returns the sub timer at now.
func (p *Projection) SubElapsed(now time.Time) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return 0
	}
	return p.subClock.Elapsed(now)
}

// NextSubIn returns the seconds until the next rotation is due.
func (p *Projection) NextSubIn(now time.Time) int {
	sub := p.SubElapsed(now)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return 0
	}
	if left := p.snap.SubIntervalSeconds - sub; left > 0 {
		return left
	}
	return 0
}
