package engine

import (
	"fmt"
	"time"

	"github.com/mcdev12/wissel/go/internal/match/clock"
	"github.com/mcdev12/wissel/go/internal/models"
)

// Side identifies a team for score adjustments.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Start kicks off the first half. The keeper, when set, is placed first and
// the remaining field spots are filled in roster order.
func (m *Match) Start(now time.Time) ([]models.MatchEvent, error) {
	if m.view != models.MatchViewSetup {
		return nil, fmt.Errorf("start while %s: %w", m.Status(), ErrInvalidTransition)
	}
	size := m.settings.PlayersOnField
	if len(m.roster) <= size {
		return nil, fmt.Errorf("%d players for %d places: %w", len(m.roster), size, ErrInsufficientRoster)
	}

	var field, bench []string
	if m.keeper != "" {
		rest := without(m.roster, []string{m.keeper})
		field = append([]string{m.keeper}, rest[:size-1]...)
		bench = copyStrings(rest[size-1:])
	} else {
		field = copyStrings(m.roster[:size])
		bench = copyStrings(m.roster[size:])
	}

	m.field = field
	m.bench = bench
	m.playSeconds = make(map[string]int, len(m.roster))
	for _, p := range m.roster {
		m.playSeconds[p] = 0
	}
	m.currentHalf = 1
	m.matchClock = clock.Segment{}
	m.subClock = clock.Segment{}
	m.matchClock.Start(now)
	m.subClock.Start(now)
	m.halfOffset = 0
	m.playClock = 0
	m.isRunning = true
	m.isPaused = false
	m.halfBreak = false
	m.subAlert = nil
	m.homeScore, m.awayScore = 0, 0
	m.goalScorers = map[string]int{}
	m.subHistory = nil
	m.view = models.MatchViewMatch

	return []models.MatchEvent{m.event(models.EventTypeMatchStart, now)}, nil
}

// Pause banks both clocks.
func (m *Match) Pause(now time.Time) error {
	if !m.Clocking() {
		return fmt.Errorf("pause while %s: %w", m.Status(), ErrInvalidTransition)
	}
	m.accrue(now)
	m.matchClock.Pause(now)
	m.subClock.Pause(now)
	m.isPaused = true
	return nil
}

// Resume re-anchors both clocks at now.
func (m *Match) Resume(now time.Time) error {
	if !m.inPlay() || !m.isPaused || m.halfBreak {
		return fmt.Errorf("resume while %s: %w", m.Status(), ErrInvalidTransition)
	}
	m.matchClock.Start(now)
	m.subClock.Start(now)
	m.isPaused = false
	return nil
}

// TogglePause pauses a live match or resumes a paused one.
func (m *Match) TogglePause(now time.Time) error {
	if m.isPaused {
		return m.Resume(now)
	}
	return m.Pause(now)
}

// Tick brings the match up to now. It accrues play time, ends the half when
// its duration is reached and raises a rotation proposal when the sub
// interval has passed. Ticks may be late or skipped; a late tick ends the
// half exactly at the boundary.
func (m *Match) Tick(now time.Time) []models.MatchEvent {
	if !m.Clocking() {
		return nil
	}

	boundary := m.halfBoundary()
	if m.matchClock.Elapsed(now) >= boundary {
		at := m.matchClock.Anchor.Add(time.Duration(boundary) * time.Second)
		m.accrueTo(boundary)
		m.subClock.Pause(at)
		m.matchClock.Freeze(boundary)
		return m.closeHalf(at)
	}

	m.accrue(now)
	if m.subAlert == nil && len(m.bench) > 0 && m.subClock.Elapsed(now) >= m.settings.SubIntervalSeconds {
		m.raiseAlert()
	}
	return nil
}

func (m *Match) closeHalf(at time.Time) []models.MatchEvent {
	m.subAlert = nil
	m.isPaused = false
	events := []models.MatchEvent{m.event(models.EventTypeHalfEnd, at)}
	if m.currentHalf < m.settings.TotalHalves {
		m.halfBreak = true
		return events
	}
	m.isRunning = false
	m.halfBreak = false
	m.view = models.MatchViewSummary
	return append(events, m.event(models.EventTypeMatchEnd, at))
}

// stopClocks accrues up to now and freezes both clocks, never past the
// half boundary.
func (m *Match) stopClocks(now time.Time) {
	m.accrue(now)
	m.matchClock.Freeze(m.accrualTarget(now))
	m.subClock.Pause(now)
}

// EndHalf force-ends the current half. The final half ends the match.
func (m *Match) EndHalf(now time.Time) ([]models.MatchEvent, error) {
	if !m.inPlay() || m.halfBreak {
		return nil, fmt.Errorf("end half while %s: %w", m.Status(), ErrInvalidTransition)
	}
	m.stopClocks(now)
	return m.closeHalf(now), nil
}

// StartNextHalf leaves the half break. The sub timer starts from zero and,
// under the default policy, a rotation is proposed straight away.
func (m *Match) StartNextHalf(now time.Time) ([]models.MatchEvent, error) {
	if !m.inPlay() || !m.halfBreak {
		return nil, fmt.Errorf("start next half while %s: %w", m.Status(), ErrInvalidTransition)
	}
	m.currentHalf++
	m.halfBreak = false
	m.halfOffset = m.matchClock.Elapsed(now)
	m.playClock = m.halfOffset
	m.subClock = clock.Segment{}
	m.matchClock.Start(now)
	m.subClock.Start(now)

	events := []models.MatchEvent{m.event(models.EventTypeHalfStart, now)}
	if m.policy.ProposeAtHalfStart && len(m.bench) > 0 {
		m.raiseAlert()
	}
	return events, nil
}

// Stop ends the match from any live state.
func (m *Match) Stop(now time.Time) ([]models.MatchEvent, error) {
	if !m.inPlay() {
		return nil, fmt.Errorf("stop while %s: %w", m.Status(), ErrInvalidTransition)
	}
	m.stopClocks(now)
	m.isRunning = false
	m.isPaused = false
	m.halfBreak = false
	m.subAlert = nil
	m.view = models.MatchViewSummary
	return []models.MatchEvent{m.event(models.EventTypeMatchEnd, now)}, nil
}

// ExecuteSubs applies the pending proposal.
func (m *Match) ExecuteSubs(now time.Time) ([]models.MatchEvent, error) {
	if m.subAlert == nil {
		return nil, ErrNoSubAlert
	}
	p := copyProposal(*m.subAlert)
	for _, out := range p.Out {
		if indexOf(m.field, out) < 0 || out == m.keeper {
			return nil, fmt.Errorf("%q left the field: %w", out, ErrStaleProposal)
		}
	}
	for _, in := range p.In {
		if indexOf(m.bench, in) < 0 {
			return nil, fmt.Errorf("%q left the bench: %w", in, ErrStaleProposal)
		}
	}

	m.accrue(now)
	m.field = append(without(m.field, p.Out), p.In...)
	m.bench = append(without(m.bench, p.In), p.Out...)
	m.subHistory = append(m.subHistory, m.record(now, p.Out, p.In))
	m.subClock.Reset(now)
	m.subAlert = nil

	ev := m.event(models.EventTypeSubAuto, now)
	ev.Out = p.Out
	ev.In = p.In
	return []models.MatchEvent{ev}, nil
}

// SkipSubs discards the pending proposal and restarts the sub timer.
func (m *Match) SkipSubs(now time.Time) error {
	if m.subAlert == nil {
		return ErrNoSubAlert
	}
	m.accrue(now)
	m.subAlert = nil
	m.subClock.Reset(now)
	return nil
}

// ManualSub swaps one field player for one bench player. A keeper who is
// subbed off hands the role to the incoming player. With an empty bench
// there is nobody to bring on and the call does nothing.
func (m *Match) ManualSub(now time.Time, out, in string) ([]models.MatchEvent, error) {
	if !m.inPlay() {
		return nil, fmt.Errorf("manual sub while %s: %w", m.Status(), ErrInvalidTransition)
	}
	if len(m.bench) == 0 {
		return nil, nil
	}
	if m.subAlert != nil {
		return nil, ErrSubAlertPending
	}
	fi := indexOf(m.field, out)
	if fi < 0 {
		if !m.inRoster(out) {
			return nil, fmt.Errorf("%q: %w", out, ErrUnknownPlayer)
		}
		return nil, fmt.Errorf("%q: %w", out, ErrNotOnField)
	}
	bi := indexOf(m.bench, in)
	if bi < 0 {
		if !m.inRoster(in) {
			return nil, fmt.Errorf("%q: %w", in, ErrUnknownPlayer)
		}
		return nil, fmt.Errorf("%q: %w", in, ErrNotOnBench)
	}

	m.accrue(now)
	m.field[fi] = in
	m.bench[bi] = out

	rec := m.record(now, []string{out}, []string{in})
	rec.Manual = true
	ev := m.event(models.EventTypeSubManual, now)
	ev.Out = []string{out}
	ev.In = []string{in}
	if m.keeper != "" && out == m.keeper {
		m.keeper = in
		rec.KeeperChange = true
		rec.NewKeeper = in
		ev.NewKeeper = in
	}
	m.subHistory = append(m.subHistory, rec)
	return []models.MatchEvent{ev}, nil
}

// SwapKeeper hands the keeper role to another player. A field player only
// takes over the role; a bench player swaps places with the old keeper.
func (m *Match) SwapKeeper(now time.Time, newKeeper string) ([]models.MatchEvent, error) {
	if !m.inPlay() {
		return nil, fmt.Errorf("swap keeper while %s: %w", m.Status(), ErrInvalidTransition)
	}
	if newKeeper == m.keeper {
		return nil, nil
	}
	fi := indexOf(m.field, newKeeper)
	bi := indexOf(m.bench, newKeeper)
	switch {
	case fi < 0 && bi < 0:
		return nil, fmt.Errorf("%q: %w", newKeeper, ErrUnknownPlayer)
	case bi >= 0 && m.keeper == "":
		return nil, fmt.Errorf("bench player %q: %w", newKeeper, ErrNoKeeper)
	}

	m.accrue(now)
	ev := m.event(models.EventTypeKeeperChange, now)
	ev.NewKeeper = newKeeper
	var rec models.SubRecord
	if bi >= 0 {
		old := m.keeper
		m.field[indexOf(m.field, old)] = newKeeper
		m.bench[bi] = old
		rec = m.record(now, []string{old}, []string{newKeeper})
		ev.Out = []string{old}
		ev.In = []string{newKeeper}
	} else {
		rec = m.record(now, nil, nil)
	}
	rec.KeeperChange = true
	rec.NewKeeper = newKeeper
	m.subHistory = append(m.subHistory, rec)
	m.keeper = newKeeper

	if m.subAlert != nil {
		m.raiseAlert()
	}
	return []models.MatchEvent{ev}, nil
}

// AdjustScore moves a score by delta, never below zero. A positive home
// adjustment with a scorer is credited in the goal scorers tally.
func (m *Match) AdjustScore(now time.Time, side Side, delta int, scorer string) ([]models.MatchEvent, error) {
	if m.view == models.MatchViewSetup {
		return nil, fmt.Errorf("score while %s: %w", m.Status(), ErrInvalidTransition)
	}

	var score *int
	var evType models.EventType
	switch side {
	case SideHome:
		score, evType = &m.homeScore, models.EventTypeGoalHome
	case SideAway:
		score, evType = &m.awayScore, models.EventTypeGoalAway
	default:
		return nil, fmt.Errorf("%q: %w", side, ErrInvalidSide)
	}

	before := *score
	*score += delta
	if *score < 0 {
		*score = 0
	}
	gained := *score - before
	if gained <= 0 {
		return nil, nil
	}
	if side == SideHome && scorer != "" {
		m.goalScorers[scorer] += gained
	}

	events := make([]models.MatchEvent, 0, gained)
	for i := 0; i < gained; i++ {
		ev := m.event(evType, now)
		if side == SideHome {
			ev.Scorer = scorer
		}
		events = append(events, ev)
	}
	return events, nil
}

// RecordPhoto logs a photo taken during the match. Storing the image is
// up to the caller.
func (m *Match) RecordPhoto(now time.Time, url, caption string) ([]models.MatchEvent, error) {
	if m.view == models.MatchViewSetup {
		return nil, fmt.Errorf("photo while %s: %w", m.Status(), ErrInvalidTransition)
	}
	if url == "" {
		return nil, ErrMissingURL
	}
	ev := m.event(models.EventTypePhoto, now)
	ev.URL = url
	ev.Caption = caption
	return []models.MatchEvent{ev}, nil
}
