package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/clock"
	"github.com/mcdev12/wissel/go/internal/models"
)

// Snapshot serializes the match at now. Running clocks are written as
// absolute virtual start times; play seconds include time accrued since
// the last tick. Snapshot does not modify the match.
func (m *Match) Snapshot(now time.Time) models.Snapshot {
	offset := m.halfOffset
	playClock := m.playClock
	if m.Clocking() {
		playClock = m.accrualTarget(now)
	}

	var keeper *string
	if m.keeper != "" {
		k := m.keeper
		keeper = &k
	}

	history := m.SubHistory()

	return models.Snapshot{
		Code:      m.code,
		Status:    m.Status(),
		View:      m.view,
		HomeTeam:  m.homeTeam,
		AwayTeam:  m.awayTeam,
		CreatedAt: m.createdAt,

		Roster:           copyStrings(m.roster),
		KeeperAssignment: keeper,
		PlayersOnField:   m.settings.PlayersOnField,
		FieldSet:         copyStrings(m.field),
		BenchSet:         copyStrings(m.bench),
		PlaySeconds:      m.PlaySeconds(now),

		CurrentHalf:         m.currentHalf,
		HalfDurationSeconds: m.settings.HalfDurationSeconds,
		TotalHalves:         m.settings.TotalHalves,
		SubIntervalSeconds:  m.settings.SubIntervalSeconds,

		TimerStartedAt:           m.matchClock.StartedAt(),
		ElapsedAtPauseSeconds:    m.matchClock.Banked,
		SubTimerStartedAt:        m.subClock.StartedAt(),
		SubElapsedAtPauseSeconds: m.subClock.Banked,
		HalfOffsetSeconds:        &offset,
		PlayClockSeconds:         &playClock,

		IsRunning: m.isRunning,
		IsPaused:  m.isPaused,
		HalfBreak: m.halfBreak,

		HomeScore:   m.homeScore,
		AwayScore:   m.awayScore,
		GoalScorers: copyCounts(m.goalScorers),

		SubHistory: history,
		SubAlert:   m.SubAlert(),
	}
}

// Clocks rebuilds the two clock segments described by a snapshot. A
// clocking snapshot resumes from its start timestamps, anything else
// adopts the banked values.
func Clocks(s *models.Snapshot) (match, sub clock.Segment) {
	if !s.Clocking() {
		return clock.Stopped(s.ElapsedAtPauseSeconds), clock.Stopped(s.SubElapsedAtPauseSeconds)
	}
	match = clock.Resume(*s.TimerStartedAt)
	if s.SubTimerStartedAt != nil {
		sub = clock.Resume(*s.SubTimerStartedAt)
	} else {
		sub = clock.Stopped(s.SubElapsedAtPauseSeconds)
		sub.Start(*s.TimerStartedAt)
	}
	return match, sub
}

// HalfOffset returns the match-clock value at which the snapshot's half
// began, falling back to whole halves for snapshots that do not carry it.
func HalfOffset(s *models.Snapshot) int {
	if s.HalfOffsetSeconds != nil {
		return *s.HalfOffsetSeconds
	}
	if s.CurrentHalf <= 1 {
		return 0
	}
	return (s.CurrentHalf - 1) * s.HalfDurationSeconds
}

// FromSnapshot reconstructs a match from its stored snapshot at now.
func FromSnapshot(s models.Snapshot, now time.Time, opts ...Option) (*Match, error) {
	settings := models.MatchSettings{
		PlayersOnField:      s.PlayersOnField,
		HalfDurationSeconds: s.HalfDurationSeconds,
		TotalHalves:         s.TotalHalves,
		SubIntervalSeconds:  s.SubIntervalSeconds,
	}
	if err := validateSettings(settings); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.Code, err)
	}

	view := s.View
	if view == "" {
		view = viewForStatus(s.Status)
	}

	m := &Match{
		code:        s.Code,
		homeTeam:    s.HomeTeam,
		awayTeam:    s.AwayTeam,
		createdAt:   s.CreatedAt,
		settings:    settings,
		policy:      DefaultPolicy(),
		view:        view,
		isRunning:   s.IsRunning,
		isPaused:    s.IsPaused,
		halfBreak:   s.HalfBreak,
		roster:      copyStrings(s.Roster),
		field:       copyStrings(s.FieldSet),
		bench:       copyStrings(s.BenchSet),
		playSeconds: copyCounts(s.PlaySeconds),
		currentHalf: s.CurrentHalf,
		halfOffset:  HalfOffset(&s),
		homeScore:   s.HomeScore,
		awayScore:   s.AwayScore,
		goalScorers: copyCounts(s.GoalScorers),
	}
	if s.KeeperAssignment != nil {
		m.keeper = *s.KeeperAssignment
	}
	if m.currentHalf < 1 {
		m.currentHalf = 1
	}
	for _, r := range s.SubHistory {
		m.subHistory = append(m.subHistory, copyRecord(r))
	}
	if s.SubAlert != nil {
		p := copyProposal(*s.SubAlert)
		m.subAlert = &p
	}
	m.matchClock, m.subClock = Clocks(&s)

	if s.PlayClockSeconds != nil {
		m.playClock = *s.PlayClockSeconds
	} else {
		m.playClock = m.accrualTarget(now)
	}

	if err := m.checkPartition(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.Code, err)
	}
	for _, opt := range opts {
		opt(m)
	}

	if derived := s.DerivedStatus(); s.Status != "" && s.Status != derived {
		log.Warn().
			Str("code", s.Code).
			Str("stored", string(s.Status)).
			Str("derived", string(derived)).
			Msg("snapshot status disagrees with its flags")
	}
	return m, nil
}

func viewForStatus(status models.MatchStatus) models.MatchView {
	switch status {
	case models.MatchStatusSetup, "":
		return models.MatchViewSetup
	case models.MatchStatusEnded:
		return models.MatchViewSummary
	default:
		return models.MatchViewMatch
	}
}

// checkPartition verifies that field and bench split the roster once the
// match has kicked off, that the field is full and that the keeper is on it.
func (m *Match) checkPartition() error {
	if m.view == models.MatchViewSetup {
		return nil
	}
	seen := make(map[string]bool, len(m.roster))
	for _, p := range append(copyStrings(m.field), m.bench...) {
		if !m.inRoster(p) {
			return fmt.Errorf("%q not on roster: %w", p, ErrInvalidSnapshot)
		}
		if seen[p] {
			return fmt.Errorf("%q listed twice: %w", p, ErrInvalidSnapshot)
		}
		seen[p] = true
	}
	if len(seen) != len(m.roster) {
		return fmt.Errorf("%d of %d players placed: %w", len(seen), len(m.roster), ErrInvalidSnapshot)
	}
	if len(m.field) != m.settings.PlayersOnField {
		return fmt.Errorf("%d on the field, want %d: %w", len(m.field), m.settings.PlayersOnField, ErrInvalidSnapshot)
	}
	if m.keeper != "" && indexOf(m.field, m.keeper) < 0 {
		return fmt.Errorf("keeper %q not on field: %w", m.keeper, ErrInvalidSnapshot)
	}
	return nil
}
