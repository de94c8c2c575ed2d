package viewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/match/repository"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store/memstore"
)

type flakySource struct {
	Source
	err error
}

func (f *flakySource) GetSnapshot(ctx context.Context, code string) (*models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Source.GetSnapshot(ctx, code)
}

type fixture struct {
	clk   *clockwork.FakeClock
	repo  *repository.Repository
	match *engine.Match
	code  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 9, 12, 9, 30, 0, 0, time.UTC))
	repo := repository.New(memstore.New(clk), clk, repository.DefaultConfig())
	snap, err := repo.Create(ctx, engine.Setup{
		HomeTeam: "Dilettant",
		AwayTeam: "Zeeburgia",
		Roster:   []string{"Anna", "Bram", "Cas", "Daan", "Eva", "Finn", "Gijs"},
		Settings: models.DefaultMatchSettings(),
	})
	require.NoError(t, err)
	m, err := engine.FromSnapshot(*snap, clk.Now())
	require.NoError(t, err)
	return &fixture{clk: clk, repo: repo, match: m, code: snap.Code}
}

func (f *fixture) push(t *testing.T, events []models.MatchEvent) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.PutSnapshot(ctx, f.code, f.match.Snapshot(f.clk.Now())))
	require.NoError(t, f.repo.AppendEvents(ctx, f.code, events...))
}

func TestProjection_ReplaysClocksBetweenPolls(t *testing.T) {
	f := newFixture(t)
	events, err := f.match.Start(f.clk.Now())
	require.NoError(t, err)
	f.clk.Advance(100 * time.Second)
	f.push(t, events)

	p := New(f.repo, f.code, f.clk, DefaultConfig())
	require.NoError(t, p.Poll(context.Background()))

	now := f.clk.Now()
	assert.Equal(t, 100, p.Elapsed(now))
	assert.Equal(t, 100, p.SubElapsed(now))
	assert.Equal(t, 200, p.NextSubIn(now))

	later := now.Add(7 * time.Second)
	assert.Equal(t, 107, p.Elapsed(later))
	assert.Equal(t, 107, p.ElapsedInHalf(later))
	assert.Equal(t, 107, p.SubElapsed(later))

	assert.Equal(t, 1200, p.Elapsed(now.Add(time.Hour)), "never past the end of the half")

	snap, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, models.MatchStatusLive, snap.Status)
}

func TestProjection_PausedUsesBankedValues(t *testing.T) {
	f := newFixture(t)
	events, err := f.match.Start(f.clk.Now())
	require.NoError(t, err)
	f.clk.Advance(42 * time.Second)
	require.NoError(t, f.match.Pause(f.clk.Now()))
	f.push(t, events)

	p := New(f.repo, f.code, f.clk, DefaultConfig())
	require.NoError(t, p.Poll(context.Background()))

	later := f.clk.Now().Add(time.Minute)
	assert.Equal(t, 42, p.Elapsed(later))
	assert.Equal(t, 42, p.SubElapsed(later))
}

func TestProjection_NewEvents(t *testing.T) {
	f := newFixture(t)
	var batches [][]models.MatchEvent
	p := New(f.repo, f.code, f.clk, DefaultConfig(), OnNewEvents(func(evs []models.MatchEvent) {
		batches = append(batches, evs)
	}))

	events, err := f.match.Start(f.clk.Now())
	require.NoError(t, err)
	goals, err := f.match.AdjustScore(f.clk.Now(), engine.SideHome, 1, "Anna")
	require.NoError(t, err)
	f.push(t, append(events, goals...))
	require.NoError(t, p.Poll(context.Background()))

	require.NoError(t, p.Poll(context.Background()))

	goals, err = f.match.AdjustScore(f.clk.Now(), engine.SideAway, 1, "")
	require.NoError(t, err)
	f.push(t, goals)
	require.NoError(t, p.Poll(context.Background()))

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)
	assert.Equal(t, models.EventTypeGoalAway, batches[1][0].Type)
	assert.Len(t, p.Events(), 3)
}

func TestProjection_KeepsLastKnownGood(t *testing.T) {
	f := newFixture(t)
	src := &flakySource{Source: f.repo}
	p := New(src, f.code, f.clk, DefaultConfig())
	require.NoError(t, p.Poll(context.Background()))

	src.err = errors.New("timeout")
	err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, p.Err())
	assert.False(t, p.Gone())

	snap, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, f.code, snap.Code)

	src.err = nil
	require.NoError(t, p.Poll(context.Background()))
	assert.NoError(t, p.Err())
}

func TestProjection_Gone(t *testing.T) {
	f := newFixture(t)
	p := New(f.repo, f.code, f.clk, DefaultConfig())
	require.NoError(t, f.repo.Delete(context.Background(), f.code))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMatchGone)
	case <-time.After(2 * time.Second):
		t.Fatal("projection did not stop")
	}
	assert.True(t, p.Gone())
	_, ok := p.Snapshot()
	assert.False(t, ok)
	assert.Zero(t, p.Elapsed(f.clk.Now()))
}

func TestProjection_BeforeFirstPoll(t *testing.T) {
	f := newFixture(t)
	p := New(f.repo, "  "+f.code, f.clk, DefaultConfig())
	assert.Equal(t, f.code, p.Code())
	assert.Zero(t, p.SubElapsed(f.clk.Now()))
	assert.Zero(t, p.NextSubIn(f.clk.Now()))
	assert.Empty(t, p.Events())
}
