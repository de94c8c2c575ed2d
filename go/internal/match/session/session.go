// Package session runs the coach side of a match.
//
// A Session owns the engine.Match and is its only writer. Commands, clock
// ticks and heartbeats are handled one at a time on the Run goroutine; every
// change is pushed to the remote through a snapsync.Writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/match/snapsync"
	"github.com/mcdev12/wissel/go/internal/models"
)

var (
	// ErrMatchGone is returned once the remote no longer knows the match
	ErrMatchGone = errors.New("match no longer exists")
	// ErrClosed is returned for commands sent after Run has returned
	ErrClosed = errors.New("session closed")
)

type Config struct {
	TickInterval time.Duration
	Sync         snapsync.Config
}

func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		Sync:         snapsync.DefaultConfig(),
	}
}

// Observer is called on the Run goroutine after every change.
type Observer func(snap models.Snapshot, events []models.MatchEvent)

type Option func(*Session)

// WithObserver registers fn to be called after every change.
func WithObserver(fn Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// WithWriterOptions passes options to the underlying snapsync.Writer.
func WithWriterOptions(opts ...snapsync.Option) Option {
	return func(s *Session) { s.writerOpts = append(s.writerOpts, opts...) }
}

// WithEngineOptions passes options to engine.FromSnapshot on Resume.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Session) { s.engineOpts = append(s.engineOpts, opts...) }
}

type command struct {
	fn func(m *engine.Match, now time.Time) ([]models.MatchEvent, error)
	// read commands only sync what the tick changed.
	read  bool
	reply chan error
}

// Session serializes all access to one match.
type Session struct {
	match  *engine.Match
	writer *snapsync.Writer
	clock  clockwork.Clock
	cfg    Config

	observers  []Observer
	writerOpts []snapsync.Option
	engineOpts []engine.Option

	cmds chan command
	done chan struct{}
}

func newSession(clock clockwork.Clock, cfg Config, opts []Option) *Session {
	s := &Session{
		clock: clock,
		cfg:   cfg,
		cmds:  make(chan command),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New wraps a match that already exists remotely under its code.
func New(m *engine.Match, remote snapsync.Remote, clock clockwork.Clock, cfg Config, opts ...Option) *Session {
	s := newSession(clock, cfg, opts)
	s.match = m
	s.writer = snapsync.NewWriter(remote, m.Code(), clock, cfg.Sync, s.writerOpts...)
	return s
}

// Resume rebuilds a session from the remote snapshot, so a coach can pick
// up a match after losing the connection or restarting.
func Resume(ctx context.Context, remote snapsync.Remote, matchCode string, clock clockwork.Clock, cfg Config, opts ...Option) (*Session, error) {
	c := code.Canonical(matchCode)
	snap, err := remote.GetSnapshot(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("fetch match %s: %w", c, err)
	}
	s := newSession(clock, cfg, opts)
	m, err := engine.FromSnapshot(*snap, clock.Now(), s.engineOpts...)
	if err != nil {
		return nil, err
	}
	s.match = m
	s.writer = snapsync.NewWriter(remote, c, clock, cfg.Sync, s.writerOpts...)

	log.Info().Str("code", c).Str("status", string(m.Status())).Int("half", m.CurrentHalf()).Msg("resumed match")
	return s, nil
}

// Code returns the match code.
func (s *Session) Code() string { return s.match.Code() }

// SyncState reports the outcome of the latest remote write.
func (s *Session) SyncState() (snapsync.State, error) { return s.writer.State() }

// Run handles commands and clock ticks until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	writerCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_ = s.writer.Run(writerCtx)
	}()
	defer func() {
		stopWriter()
		<-writerDone
	}()

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().Str("code", s.Code()).Dur("tick_interval", s.cfg.TickInterval).Msg("coach session started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("code", s.Code()).Msg("coach session stopped")
			return ctx.Err()
		case <-ticker.Chan():
			s.tick()
		case cmd := <-s.cmds:
			cmd.reply <- s.execute(cmd)
		}
	}
}

func (s *Session) tick() {
	if state, _ := s.writer.State(); state == snapsync.StateNotFound {
		return
	}
	now := s.clock.Now()
	if !s.advance(now) && s.match.Clocking() && s.writer.HeartbeatDue(now) {
		s.writer.Schedule(s.match.Snapshot(now))
	}
}

// advance ticks the match to now and publishes only if that produced events
// or raised or cleared the sub alert.
func (s *Session) advance(now time.Time) bool {
	hadAlert := s.match.SubAlert() != nil
	events := s.match.Tick(now)
	if len(events) == 0 && hadAlert == (s.match.SubAlert() != nil) {
		return false
	}
	s.publish(now, events)
	return true
}

func (s *Session) execute(cmd command) error {
	if state, _ := s.writer.State(); state == snapsync.StateNotFound {
		return ErrMatchGone
	}
	now := s.clock.Now()
	if cmd.read {
		s.advance(now)
		_, err := cmd.fn(s.match, now)
		return err
	}
	events := s.match.Tick(now)
	produced, err := cmd.fn(s.match, now)
	events = append(events, produced...)
	s.publish(now, events)
	return err
}

func (s *Session) publish(now time.Time, events []models.MatchEvent) {
	snap := s.match.Snapshot(now)
	s.writer.Append(events...)
	s.writer.Schedule(snap)
	for _, ev := range events {
		log.Debug().Str("code", snap.Code).Str("event_type", string(ev.Type)).Str("time", ev.Time).Int("half", ev.Half).Msg("match event")
	}
	for _, fn := range s.observers {
		fn(snap, events)
	}
}

// Do runs fn on the session goroutine after ticking the match to the
// current time. The resulting state is synced even when fn fails, since
// the tick may have changed it.
func (s *Session) Do(ctx context.Context, fn func(m *engine.Match, now time.Time) ([]models.MatchEvent, error)) error {
	return s.send(ctx, command{fn: fn})
}

func (s *Session) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// view runs fn against the match without treating the call as a change.
func (s *Session) view(ctx context.Context, fn func(m *engine.Match, now time.Time)) error {
	return s.send(ctx, command{read: true, fn: func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) {
		fn(m, now)
		return nil, nil
	}})
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.view(ctx, func(m *engine.Match, now time.Time) {
		snap = m.Snapshot(now)
	})
	return snap, err
}

func (s *Session) do(ctx context.Context, fn func(m *engine.Match, now time.Time) error) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) {
		return nil, fn(m, now)
	})
}

// Tick brings the match up to the current time without a command.
func (s *Session) Tick(ctx context.Context) error {
	return s.view(ctx, func(*engine.Match, time.Time) {})
}

func (s *Session) Configure(ctx context.Context, setup engine.Setup) error {
	return s.do(ctx, func(m *engine.Match, _ time.Time) error { return m.Configure(setup) })
}

func (s *Session) Start(ctx context.Context) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.Start(now) })
}

func (s *Session) TogglePause(ctx context.Context) error {
	return s.do(ctx, func(m *engine.Match, now time.Time) error { return m.TogglePause(now) })
}

func (s *Session) EndHalf(ctx context.Context) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.EndHalf(now) })
}

func (s *Session) StartNextHalf(ctx context.Context) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.StartNextHalf(now) })
}

func (s *Session) Stop(ctx context.Context) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.Stop(now) })
}

func (s *Session) ExecuteSubs(ctx context.Context) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.ExecuteSubs(now) })
}

func (s *Session) SkipSubs(ctx context.Context) error {
	return s.do(ctx, func(m *engine.Match, now time.Time) error { return m.SkipSubs(now) })
}

func (s *Session) ManualSub(ctx context.Context, out, in string) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.ManualSub(now, out, in) })
}

func (s *Session) SwapKeeper(ctx context.Context, keeper string) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) { return m.SwapKeeper(now, keeper) })
}

func (s *Session) AdjustScore(ctx context.Context, side engine.Side, delta int, scorer string) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) {
		return m.AdjustScore(now, side, delta, scorer)
	})
}

func (s *Session) RecordPhoto(ctx context.Context, url, caption string) error {
	return s.Do(ctx, func(m *engine.Match, now time.Time) ([]models.MatchEvent, error) {
		return m.RecordPhoto(now, url, caption)
	})
}
