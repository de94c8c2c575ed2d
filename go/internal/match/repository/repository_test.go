package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
	"github.com/mcdev12/wissel/go/internal/store/memstore"
)

type recordingPublisher struct {
	published []models.MatchEvent
	err       error
}

func (p *recordingPublisher) PublishMatchEvent(ctx context.Context, code string, event models.MatchEvent) error {
	p.published = append(p.published, event)
	return p.err
}

func setup(home, away string) engine.Setup {
	return engine.Setup{
		HomeTeam: home,
		AwayTeam: away,
		Roster:   []string{"Anna", "Bram", "Cas", "Daan", "Eva", "Finn", "Gijs"},
		Settings: models.DefaultMatchSettings(),
	}
}

func newRepo(t *testing.T, opts ...Option) (*Repository, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 9, 12, 9, 0, 0, 0, time.UTC))
	return New(memstore.New(clk), clk, DefaultConfig(), opts...), clk
}

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo, clk := newRepo(t)

	snap, err := repo.Create(ctx, setup("Dilettant", "Zeeburgia"))
	require.NoError(t, err)
	assert.Len(t, snap.Code, 4)
	assert.Equal(t, models.MatchStatusSetup, snap.Status)
	assert.Equal(t, clk.Now().UTC(), snap.CreatedAt)

	got, err := repo.GetSnapshot(ctx, snap.Code)
	require.NoError(t, err)
	assert.Equal(t, snap.Code, got.Code)
	assert.Equal(t, "Zeeburgia", got.AwayTeam)

	events, err := repo.ListEvents(ctx, snap.Code)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
}

func TestRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	_, err := repo.GetSnapshot(ctx, "ZZZZ")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.ListEvents(ctx, "ZZZZ")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.PutSnapshot(ctx, "ZZZZ", models.Snapshot{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.AppendEvents(ctx, "ZZZZ", models.MatchEvent{Type: models.EventTypePhoto})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepository_PutSnapshotNormalizesCode(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	snap, err := repo.Create(ctx, setup("Dilettant", ""))
	require.NoError(t, err)

	update := *snap
	update.Code = "something else"
	update.HomeScore = 2
	update.Viewers = 9
	require.NoError(t, repo.PutSnapshot(ctx, strings.ToLower(snap.Code), update))

	got, err := repo.GetSnapshot(ctx, snap.Code)
	require.NoError(t, err)
	assert.Equal(t, snap.Code, got.Code)
	assert.Equal(t, 2, got.HomeScore)
	assert.Zero(t, got.Viewers)
}

func TestRepository_AppendEvents(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("bus down")}
	repo, clk := newRepo(t, WithPublisher(pub))
	snap, err := repo.Create(ctx, setup("Dilettant", "Zeeburgia"))
	require.NoError(t, err)

	stamped := clk.Now().Add(-time.Minute).UTC()
	require.NoError(t, repo.AppendEvents(ctx, snap.Code,
		models.MatchEvent{Type: models.EventTypeMatchStart, Time: "0:00", Half: 1},
		models.MatchEvent{Type: models.EventTypeGoalHome, Time: "3:12", Half: 1, Scorer: "Anna", At: stamped},
	))
	require.NoError(t, repo.AppendEvents(ctx, snap.Code))

	events, err := repo.ListEvents(ctx, snap.Code)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeMatchStart, events[0].Type)
	assert.Equal(t, clk.Now().UTC(), events[0].At)
	assert.Equal(t, stamped, events[1].At)

	// Publishing failures do not fail the append.
	assert.Len(t, pub.published, 2)
}

func TestRepository_AppendEventReturnsStored(t *testing.T) {
	ctx := context.Background()
	repo, clk := newRepo(t)
	snap, err := repo.Create(ctx, setup("Dilettant", "Zeeburgia"))
	require.NoError(t, err)

	in := models.MatchEvent{Type: models.EventTypePhoto, URL: "https://example.com/1.jpg"}
	got, err := repo.AppendEvent(ctx, snap.Code, in)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().UTC(), got.At)
	assert.Equal(t, in.URL, got.URL)
	assert.True(t, in.At.IsZero(), "caller's event is left as is")

	_, err = repo.AppendEvent(ctx, "ZZZZ", in)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepository_ViewerPresence(t *testing.T) {
	ctx := context.Background()
	repo, clk := newRepo(t)

	n, err := repo.TouchViewer(ctx, "K7QP", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clk.Advance(5 * time.Second)
	n, err = repo.TouchViewer(ctx, "K7QP", "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clk.Advance(5 * time.Second)
	n, err = repo.TouchViewer(ctx, "K7QP", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clk.Advance(11 * time.Second)
	n, err = repo.ViewerCount(ctx, "K7QP")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "viewer 2 is older than the presence window")

	clk.Advance(time.Hour)
	n, err = repo.ViewerCount(ctx, "K7QP")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_Live(t *testing.T) {
	ctx := context.Background()
	repo, clk := newRepo(t)

	older, err := repo.Create(ctx, setup("Oud", "Team"))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	newer, err := repo.Create(ctx, setup("Nieuw", ""))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	running, err := repo.Create(ctx, setup("Bezig", "Team"))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	ended, err := repo.Create(ctx, setup("Klaar", "Team"))
	require.NoError(t, err)

	live := *running
	live.View = models.MatchViewMatch
	live.IsRunning = true
	live.Status = models.MatchStatusLive
	require.NoError(t, repo.PutSnapshot(ctx, running.Code, live))

	done := *ended
	done.View = models.MatchViewSummary
	done.Status = models.MatchStatusEnded
	require.NoError(t, repo.PutSnapshot(ctx, ended.Code, done))

	_, err = repo.TouchViewer(ctx, running.Code, "v1")
	require.NoError(t, err)

	matches, err := repo.Live(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, running.Code, matches[0].Code)
	assert.Equal(t, models.MatchStatusLive, matches[0].Status)
	assert.Equal(t, 1, matches[0].Viewers)

	assert.Equal(t, newer.Code, matches[1].Code)
	assert.Equal(t, "Tegenstander", matches[1].AwayTeam)
	assert.Equal(t, older.Code, matches[2].Code)
}

func TestRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	snap, err := repo.Create(ctx, setup("Dilettant", "Zeeburgia"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, snap.Code))
	_, err = repo.GetSnapshot(ctx, snap.Code)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.ListEvents(ctx, snap.Code)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "match:K7QP", MatchKey("k7qp"))
	assert.Equal(t, "match:K7QP:events", EventsKey(" K7QP"))
	assert.Equal(t, "viewers:K7QP", ViewersKey("K7QP"))
}

func TestRepository_PutSnapshotDerivesStatus(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	snap, err := repo.Create(ctx, setup("Dilettant", "Zeeburgia"))
	require.NoError(t, err)

	stale := *snap
	stale.Status = models.MatchStatusLive
	require.NoError(t, repo.PutSnapshot(ctx, snap.Code, stale))

	got, err := repo.GetSnapshot(ctx, snap.Code)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusSetup, got.Status)
}
