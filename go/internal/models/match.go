package models

import (
	"time"
)

// MatchStatus is the UI-facing lifecycle label of a match.
// It is always derived from the flag tuple, see DeriveStatus.
type MatchStatus string

const (
	MatchStatusSetup    MatchStatus = "setup"
	MatchStatusLive     MatchStatus = "live"
	MatchStatusPaused   MatchStatus = "paused"
	MatchStatusHalftime MatchStatus = "halftime"
	MatchStatusEnded    MatchStatus = "ended"
)

// MatchView is the screen the coach session is on.
type MatchView string

const (
	MatchViewSetup   MatchView = "setup"
	MatchViewMatch   MatchView = "match"
	MatchViewSummary MatchView = "summary"
)

// DeriveStatus computes the lifecycle label from the flags.
func DeriveStatus(view MatchView, isRunning, isPaused, halfBreak bool) MatchStatus {
	switch {
	case view == MatchViewSetup || view == "":
		return MatchStatusSetup
	case view == MatchViewSummary:
		return MatchStatusEnded
	case halfBreak:
		return MatchStatusHalftime
	case isPaused:
		return MatchStatusPaused
	case isRunning:
		return MatchStatusLive
	default:
		return MatchStatusEnded
	}
}

// MatchSettings is the configuration fixed at match start.
type MatchSettings struct {
	PlayersOnField      int `json:"playersOnField"`
	HalfDurationSeconds int `json:"halfDurationSeconds"`
	TotalHalves         int `json:"totalHalves"`
	SubIntervalSeconds  int `json:"subIntervalSeconds"`
}

// DefaultMatchSettings mirrors the defaults a coach gets on the setup screen.
func DefaultMatchSettings() MatchSettings {
	return MatchSettings{
		PlayersOnField:      5,
		HalfDurationSeconds: 20 * 60,
		TotalHalves:         2,
		SubIntervalSeconds:  5 * 60,
	}
}

// SubRecord is one entry of the append-only substitution history.
type SubRecord struct {
	Time         string   `json:"time"`
	Half         int      `json:"half"`
	PlayersOut   []string `json:"playersOut"`
	PlayersIn    []string `json:"playersIn"`
	Manual       bool     `json:"manual,omitempty"`
	KeeperChange bool     `json:"keeperChange,omitempty"`
	NewKeeper    string   `json:"newKeeper,omitempty"`
}

// SubProposal is a rotation suggestion surfaced to the coach.
type SubProposal struct {
	Out []string `json:"out"`
	In  []string `json:"in"`
}

// Empty reports whether the proposal swaps nobody.
func (p SubProposal) Empty() bool {
	return len(p.Out) == 0 || len(p.In) == 0
}

// Snapshot is the serialized match state as stored remotely.
//
// Running timers are sent as absolute virtual start timestamps so any
// reader can recompute elapsed seconds with its own clock.
// PlayClockSeconds is the match-clock value up to which PlaySeconds has
// been accrued.
type Snapshot struct {
	Code   string      `json:"code"`
	Status MatchStatus `json:"status"`
	View   MatchView   `json:"view"`

	HomeTeam  string    `json:"homeTeam"`
	AwayTeam  string    `json:"awayTeam"`
	CreatedAt time.Time `json:"createdAt"`

	Roster           []string       `json:"roster"`
	KeeperAssignment *string        `json:"keeperAssignment"`
	PlayersOnField   int            `json:"playersOnField"`
	FieldSet         []string       `json:"fieldSet"`
	BenchSet         []string       `json:"benchSet"`
	PlaySeconds      map[string]int `json:"playSeconds"`

	CurrentHalf         int `json:"currentHalf"`
	HalfDurationSeconds int `json:"halfDurationSeconds"`
	TotalHalves         int `json:"totalHalves"`
	SubIntervalSeconds  int `json:"subIntervalSeconds"`

	TimerStartedAt           *time.Time `json:"timerStartedAt"`
	ElapsedAtPauseSeconds    int        `json:"elapsedAtPauseSeconds"`
	SubTimerStartedAt        *time.Time `json:"subTimerStartedAt"`
	SubElapsedAtPauseSeconds int        `json:"subElapsedAtPauseSeconds"`
	HalfOffsetSeconds        *int       `json:"halfOffsetSeconds,omitempty"`
	PlayClockSeconds         *int       `json:"playClockSeconds,omitempty"`

	IsRunning bool `json:"isRunning"`
	IsPaused  bool `json:"isPaused"`
	HalfBreak bool `json:"halfBreak"`

	HomeScore   int            `json:"homeScore"`
	AwayScore   int            `json:"awayScore"`
	GoalScorers map[string]int `json:"goalScorers"`

	SubHistory []SubRecord  `json:"subHistory"`
	SubAlert   *SubProposal `json:"subAlert"`
	Viewers    int          `json:"viewers,omitempty"`
}

// DerivedStatus recomputes the status from the snapshot flags.
func (s *Snapshot) DerivedStatus() MatchStatus {
	return DeriveStatus(s.View, s.IsRunning, s.IsPaused, s.HalfBreak)
}

// Clocking reports whether the snapshot's timers are advancing.
func (s *Snapshot) Clocking() bool {
	return s.TimerStartedAt != nil && s.IsRunning && !s.IsPaused && !s.HalfBreak
}

// MatchSummary is the short form used by the live listing.
type MatchSummary struct {
	Code        string      `json:"code"`
	HomeTeam    string      `json:"homeTeam"`
	AwayTeam    string      `json:"awayTeam"`
	HomeScore   int         `json:"homeScore"`
	AwayScore   int         `json:"awayScore"`
	Status      MatchStatus `json:"status"`
	CurrentHalf int         `json:"currentHalf"`
	Viewers     int         `json:"viewers"`
	CreatedAt   time.Time   `json:"createdAt"`
}
