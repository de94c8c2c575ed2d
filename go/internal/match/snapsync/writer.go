// Package snapsync pushes coach state to the remote store.
//
// Snapshot writes are debounced and last-write-wins. Event appends are sent
// in the order they were queued. Failures never block the coach: they are
// surfaced as an advisory State, the failed work stays queued and is retried
// with backoff up to the heartbeat interval.
package snapsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/metrics"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
)

// Remote is where match state lives. Missing matches are reported with
// errors matching store.ErrNotFound.
type Remote interface {
	GetSnapshot(ctx context.Context, code string) (*models.Snapshot, error)
	PutSnapshot(ctx context.Context, code string, snap models.Snapshot) error
	ListEvents(ctx context.Context, code string) ([]models.MatchEvent, error)
	AppendEvents(ctx context.Context, code string, events ...models.MatchEvent) error
}

// State is the outcome of the most recent write.
type State string

const (
	StateOK       State = "ok"
	StateError    State = "error"
	StateNotFound State = "not_found"
)

type Config struct {
	// Debounce collapses bursts of snapshot writes into one.
	Debounce time.Duration
	// Heartbeat is the interval at which a running match is re-sent.
	Heartbeat time.Duration
	// WriteTimeout bounds a single remote call.
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:     300 * time.Millisecond,
		Heartbeat:    10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Writer sends snapshots and events for one match.
type Writer struct {
	remote  Remote
	code    string
	clock   clockwork.Clock
	cfg     Config
	metrics metrics.MetricsCollector

	mu            sync.Mutex
	pending       *models.Snapshot
	events        []models.MatchEvent
	state         State
	lastErr       error
	lastScheduled time.Time

	kick    chan struct{}
	flushed chan struct{}
}

// minRetryDelay is used when no debounce is configured.
const minRetryDelay = 100 * time.Millisecond

type Option func(*Writer)

// WithMetrics records write outcomes on m.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a writer for the match with the given code. Call Run to
// start sending.
func NewWriter(remote Remote, code string, clock clockwork.Clock, cfg Config, opts ...Option) *Writer {
	w := &Writer{
		remote:  remote,
		code:    code,
		clock:   clock,
		cfg:     cfg,
		metrics: &metrics.NoOpMetricsCollector{},
		state:   StateOK,
		kick:    make(chan struct{}, 1),
		flushed: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Schedule queues snap as the next snapshot to write, replacing any snapshot
// not yet sent. It never blocks.
func (w *Writer) Schedule(snap models.Snapshot) {
	w.mu.Lock()
	if w.state == StateNotFound {
		w.mu.Unlock()
		return
	}
	w.pending = &snap
	w.lastScheduled = w.clock.Now()
	w.mu.Unlock()
	w.notify()
}

// Append queues events for the event log. It never blocks.
func (w *Writer) Append(events ...models.MatchEvent) {
	if len(events) == 0 {
		return
	}
	w.mu.Lock()
	if w.state == StateNotFound {
		w.mu.Unlock()
		return
	}
	w.events = append(w.events, events...)
	w.mu.Unlock()
	w.notify()
}

// HeartbeatDue reports whether a running match should be re-sent at now.
func (w *Writer) HeartbeatDue(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != StateNotFound && now.Sub(w.lastScheduled) >= w.cfg.Heartbeat
}

// State returns the outcome of the latest write and its error, if any.
func (w *Writer) State() (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.lastErr
}

// Flushed is signalled after each timed pass, and after an immediate pass
// that left nothing queued.
func (w *Writer) Flushed() <-chan struct{} {
	return w.flushed
}

func (w *Writer) notify() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run sends queued work until ctx is cancelled, then makes one last
// attempt to send whatever is still queued.
func (w *Writer) Run(ctx context.Context) error {
	var (
		timer   clockwork.Timer
		timerC  <-chan time.Time
		backoff time.Duration
	)
	defer func() {
		if timer != nil {
			stopAndDrainTimer(timer)
		}
	}()

	// arm starts the timer for queued work. After a failed write the delay
	// doubles per attempt, capped at the heartbeat interval.
	arm := func() {
		if timer != nil || !w.hasPending() {
			return
		}
		delay := w.cfg.Debounce
		if state, _ := w.State(); state == StateError {
			if backoff == 0 {
				backoff = max(w.cfg.Debounce, minRetryDelay)
			} else {
				backoff = min(2*backoff, max(w.cfg.Heartbeat, minRetryDelay))
			}
			delay = backoff
		} else {
			backoff = 0
		}
		timer = w.clock.NewTimer(delay)
		timerC = timer.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			w.sendEvents(ctx)
			w.sendSnapshot(ctx)
			return ctx.Err()

		case <-w.kick:
			w.sendEvents(ctx)
			// The debounce window is not extended by later schedules.
			arm()
			w.signalIfIdle(timer)

		case <-timerC:
			timer, timerC = nil, nil
			w.sendEvents(ctx)
			w.sendSnapshot(ctx)
			arm()
			w.signal()
		}
	}
}

func (w *Writer) hasPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil || len(w.events) > 0
}

func (w *Writer) signalIfIdle(timer clockwork.Timer) {
	if timer != nil || w.hasPending() {
		return
	}
	w.signal()
}

func (w *Writer) signal() {
	select {
	case w.flushed <- struct{}{}:
	default:
	}
}

func (w *Writer) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Writes already started are not cancelled with the session.
	return context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
}

func (w *Writer) sendEvents(ctx context.Context) {
	w.mu.Lock()
	if len(w.events) == 0 || w.state == StateNotFound {
		w.mu.Unlock()
		return
	}
	batch := w.events
	w.events = nil
	w.mu.Unlock()

	wctx, cancel := w.writeContext(ctx)
	err := w.remote.AppendEvents(wctx, w.code, batch...)
	cancel()

	w.metrics.RecordEventsAppended(len(batch), err == nil)
	if err != nil {
		log.Warn().Err(err).Str("code", w.code).Int("count", len(batch)).Msg("failed to append match events")
		w.setResult(err)
		// A write that timed out may still have landed, so a retried batch
		// can show up twice in the log.
		w.mu.Lock()
		if w.state == StateError {
			w.events = append(batch, w.events...)
		}
		w.mu.Unlock()
		return
	}
	log.Debug().Str("code", w.code).Int("count", len(batch)).Msg("appended match events")
}

func (w *Writer) sendSnapshot(ctx context.Context) {
	w.mu.Lock()
	if w.pending == nil || w.state == StateNotFound {
		w.mu.Unlock()
		return
	}
	snap := *w.pending
	w.pending = nil
	w.mu.Unlock()

	start := w.clock.Now()
	wctx, cancel := w.writeContext(ctx)
	err := w.remote.PutSnapshot(wctx, w.code, snap)
	cancel()

	w.metrics.RecordSnapshotWrite(err == nil, w.clock.Since(start))
	w.setResult(err)
	if err != nil {
		log.Warn().Err(err).Str("code", w.code).Str("status", string(snap.Status)).Msg("failed to write match snapshot")
		w.mu.Lock()
		// A newer schedule wins over the failed one.
		if w.state == StateError && w.pending == nil {
			w.pending = &snap
		}
		w.mu.Unlock()
		return
	}
	log.Debug().Str("code", w.code).Str("status", string(snap.Status)).Msg("wrote match snapshot")
}

func (w *Writer) setResult(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateNotFound {
		return
	}
	switch {
	case err == nil:
		w.state, w.lastErr = StateOK, nil
	case errors.Is(err, store.ErrNotFound):
		w.state, w.lastErr = StateNotFound, err
		w.pending = nil
		w.events = nil
		log.Error().Err(err).Str("code", w.code).Msg("match no longer exists remotely, stopping sync")
	default:
		w.state, w.lastErr = StateError, err
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
