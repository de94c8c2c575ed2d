// Package engine is the match lifecycle state machine.
//
// A Match is owned by exactly one coach session. Every operation takes the
// wall-clock time explicitly and returns the domain events it produced;
// nothing in this package reads a clock or performs I/O.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/wissel/go/internal/match/clock"
	"github.com/mcdev12/wissel/go/internal/match/rotation"
	"github.com/mcdev12/wissel/go/internal/models"
)

// Setup is the configuration a coach finalizes before kickoff.
type Setup struct {
	Code      string
	HomeTeam  string
	AwayTeam  string
	Roster    []string
	Keeper    string
	Settings  models.MatchSettings
	CreatedAt time.Time
}

// Policy holds conventions that are not lifecycle rules.
type Policy struct {
	// ProposeAtHalfStart surfaces a rotation proposal as soon as a new half
	// starts, provided the bench is not empty.
	ProposeAtHalfStart bool
}

// DefaultPolicy returns the conventions used in youth matches.
func DefaultPolicy() Policy {
	return Policy{ProposeAtHalfStart: true}
}

// Option configures a Match.
type Option func(*Match)

// WithPolicy overrides the default policy.
func WithPolicy(p Policy) Option {
	return func(m *Match) {
		m.policy = p
	}
}

// Match is the authoritative state of one match.
type Match struct {
	code      string
	homeTeam  string
	awayTeam  string
	createdAt time.Time
	settings  models.MatchSettings
	policy    Policy

	view      models.MatchView
	isRunning bool
	isPaused  bool
	halfBreak bool

	roster      []string
	keeper      string
	field       []string
	bench       []string
	playSeconds map[string]int

	currentHalf int
	matchClock  clock.Segment
	subClock    clock.Segment
	// halfOffset is the match-clock value at which the current half began.
	halfOffset int
	// playClock is the match-clock value playSeconds has been accrued up to.
	playClock int

	homeScore   int
	awayScore   int
	goalScorers map[string]int
	subHistory  []models.SubRecord
	subAlert    *models.SubProposal
}

// New creates a match in the setup state.
func New(setup Setup, opts ...Option) (*Match, error) {
	m := &Match{
		view:        models.MatchViewSetup,
		policy:      DefaultPolicy(),
		currentHalf: 1,
		playSeconds: map[string]int{},
		goalScorers: map[string]int{},
	}
	if err := m.apply(setup); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Configure replaces the setup of a match that has not kicked off yet.
func (m *Match) Configure(setup Setup) error {
	if m.view != models.MatchViewSetup {
		return fmt.Errorf("configure while %s: %w", m.Status(), ErrInvalidTransition)
	}
	if setup.Code == "" {
		setup.Code = m.code
	}
	if setup.CreatedAt.IsZero() {
		setup.CreatedAt = m.createdAt
	}
	return m.apply(setup)
}

func (m *Match) apply(setup Setup) error {
	if err := validateSettings(setup.Settings); err != nil {
		return err
	}
	roster, err := validateRoster(setup.Roster, setup.Keeper)
	if err != nil {
		return err
	}
	m.code = setup.Code
	m.homeTeam = setup.HomeTeam
	m.awayTeam = setup.AwayTeam
	m.createdAt = setup.CreatedAt
	m.settings = setup.Settings
	m.roster = roster
	m.keeper = strings.TrimSpace(setup.Keeper)
	return nil
}

func validateSettings(s models.MatchSettings) error {
	switch {
	case s.PlayersOnField <= 0:
		return fmt.Errorf("players on field %d: %w", s.PlayersOnField, ErrInvalidSettings)
	case s.HalfDurationSeconds <= 0:
		return fmt.Errorf("half duration %ds: %w", s.HalfDurationSeconds, ErrInvalidSettings)
	case s.TotalHalves <= 0:
		return fmt.Errorf("total halves %d: %w", s.TotalHalves, ErrInvalidSettings)
	case s.SubIntervalSeconds <= 0:
		return fmt.Errorf("sub interval %ds: %w", s.SubIntervalSeconds, ErrInvalidSettings)
	}
	return nil
}

func validateRoster(players []string, keeper string) ([]string, error) {
	roster := make([]string, 0, len(players))
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		name := strings.TrimSpace(p)
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicatePlayer)
		}
		seen[name] = true
		roster = append(roster, name)
	}
	if k := strings.TrimSpace(keeper); k != "" && !seen[k] {
		return nil, fmt.Errorf("keeper %q: %w", k, ErrUnknownPlayer)
	}
	return roster, nil
}

// Code returns the match code.
func (m *Match) Code() string { return m.code }

// HomeTeam returns the home team name.
func (m *Match) HomeTeam() string { return m.homeTeam }

// AwayTeam returns the away team name.
func (m *Match) AwayTeam() string { return m.awayTeam }

// Settings returns the match configuration.
func (m *Match) Settings() models.MatchSettings { return m.settings }

// View returns the screen the match is on.
func (m *Match) View() models.MatchView { return m.view }

// Status derives the lifecycle label from the state flags.
func (m *Match) Status() models.MatchStatus {
	return models.DeriveStatus(m.view, m.isRunning, m.isPaused, m.halfBreak)
}

// Clocking reports whether the match clock is advancing.
func (m *Match) Clocking() bool {
	return m.view == models.MatchViewMatch && m.isRunning && !m.isPaused && !m.halfBreak
}

// inPlay covers live, paused and half break.
func (m *Match) inPlay() bool {
	return m.view == models.MatchViewMatch && m.isRunning
}

// CurrentHalf returns the 1-based half number.
func (m *Match) CurrentHalf() int { return m.currentHalf }

// Keeper returns the designated keeper, or "" when there is none.
func (m *Match) Keeper() string { return m.keeper }

// Roster returns a copy of the roster in setup order.
func (m *Match) Roster() []string { return copyStrings(m.roster) }

// Field returns a copy of the players on the pitch.
func (m *Match) Field() []string { return copyStrings(m.field) }

// Bench returns a copy of the players on the bench.
func (m *Match) Bench() []string { return copyStrings(m.bench) }

// Score returns the home and away score.
func (m *Match) Score() (home, away int) { return m.homeScore, m.awayScore }

// GoalScorers returns a copy of the home goals per scorer.
func (m *Match) GoalScorers() map[string]int { return copyCounts(m.goalScorers) }

// SubHistory returns a copy of the substitution history.
func (m *Match) SubHistory() []models.SubRecord {
	out := make([]models.SubRecord, len(m.subHistory))
	for i, r := range m.subHistory {
		out[i] = copyRecord(r)
	}
	return out
}

// SubAlert returns the pending rotation proposal, or nil.
func (m *Match) SubAlert() *models.SubProposal {
	if m.subAlert == nil {
		return nil
	}
	p := copyProposal(*m.subAlert)
	return &p
}

// Elapsed returns the match clock at now.
func (m *Match) Elapsed(now time.Time) int {
	return m.matchClock.Elapsed(now)
}

// ElapsedInHalf returns the seconds played in the current half.
func (m *Match) ElapsedInHalf(now time.Time) int {
	e := m.matchClock.Elapsed(now) - m.halfOffset
	if e < 0 {
		return 0
	}
	return e
}

// SubElapsed returns the seconds since the last rotation decision.
func (m *Match) SubElapsed(now time.Time) int {
	return m.subClock.Elapsed(now)
}

// PlaySeconds returns the play time per player as of now.
func (m *Match) PlaySeconds(now time.Time) map[string]int {
	out := copyCounts(m.playSeconds)
	if !m.Clocking() {
		return out
	}
	if delta := m.accrualTarget(now) - m.playClock; delta > 0 {
		for _, p := range m.field {
			out[p] += delta
		}
	}
	return out
}

func (m *Match) halfBoundary() int {
	return m.halfOffset + m.settings.HalfDurationSeconds
}

func (m *Match) accrualTarget(now time.Time) int {
	e := m.matchClock.Elapsed(now)
	if b := m.halfBoundary(); e > b {
		return b
	}
	return e
}

// accrue credits every field player with the match-clock seconds that
// passed since the previous accrual, capped at the half boundary.
func (m *Match) accrue(now time.Time) {
	if !m.Clocking() {
		return
	}
	m.accrueTo(m.accrualTarget(now))
}

func (m *Match) accrueTo(clockValue int) {
	delta := clockValue - m.playClock
	if delta <= 0 {
		return
	}
	for _, p := range m.field {
		m.playSeconds[p] += delta
	}
	m.playClock = clockValue
}

func (m *Match) event(t models.EventType, at time.Time) models.MatchEvent {
	return models.MatchEvent{
		Type: t,
		Time: clock.Format(m.matchClock.Elapsed(at)),
		Half: m.currentHalf,
		At:   at.UTC(),
	}
}

func (m *Match) record(at time.Time, out, in []string) models.SubRecord {
	return models.SubRecord{
		Time:       clock.Format(m.matchClock.Elapsed(at)),
		Half:       m.currentHalf,
		PlayersOut: copyStrings(out),
		PlayersIn:  copyStrings(in),
	}
}

func (m *Match) propose() models.SubProposal {
	return rotation.Propose(rotation.Input{
		Field:       m.field,
		Bench:       m.bench,
		PlaySeconds: m.playSeconds,
		Keeper:      m.keeper,
		Roster:      m.roster,
	})
}

// raiseAlert stores a fresh proposal, or clears the alert when nobody can rotate.
func (m *Match) raiseAlert() bool {
	p := m.propose()
	if p.Empty() {
		m.subAlert = nil
		return false
	}
	m.subAlert = &p
	return true
}

func (m *Match) inRoster(name string) bool {
	return indexOf(m.roster, name) >= 0
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func without(list, remove []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if indexOf(remove, v) < 0 {
			out = append(out, v)
		}
	}
	return out
}

func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func copyCounts(c map[string]int) map[string]int {
	out := make(map[string]int, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func copyProposal(p models.SubProposal) models.SubProposal {
	return models.SubProposal{Out: copyStrings(p.Out), In: copyStrings(p.In)}
}

func copyRecord(r models.SubRecord) models.SubRecord {
	r.PlayersOut = copyStrings(r.PlayersOut)
	r.PlayersIn = copyStrings(r.PlayersIn)
	return r
}
