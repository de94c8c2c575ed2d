package matchapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wissel/go/clients"
	"github.com/mcdev12/wissel/go/internal/api"
	"github.com/mcdev12/wissel/go/internal/match/repository"
	"github.com/mcdev12/wissel/go/internal/match/snapsync"
	"github.com/mcdev12/wissel/go/internal/match/viewer"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
	"github.com/mcdev12/wissel/go/internal/store/memstore"
)

var (
	_ snapsync.Remote = (*Client)(nil)
	_ viewer.Source   = (*Client)(nil)
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	repo := repository.New(memstore.New(clk), clk, repository.DefaultConfig())

	mux := http.NewServeMux()
	api.NewHandler(repo).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	created, err := c.Create(ctx, api.CreateRequest{
		AwayTeam: "VV Oost",
		Players:  []string{"Anna", "Bram", "Cas", "Daan", "Eva", "Fien"},
		Keeper:   "Anna",
	})
	require.NoError(t, err)

	snap, err := c.GetSnapshot(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, "VV Oost", snap.AwayTeam)

	snap.AwayScore = 1
	require.NoError(t, c.PutSnapshot(ctx, created.Code, *snap))

	require.NoError(t, c.AppendEvents(ctx, created.Code,
		models.MatchEvent{Type: models.EventTypeMatchStart, Time: "0:00", Half: 1},
		models.MatchEvent{Type: models.EventTypeGoalAway, Time: "2:15", Half: 1},
	))
	events, err := c.ListEvents(ctx, created.Code)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeGoalAway, events[1].Type)

	live, err := c.Live(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 1, live[0].AwayScore)
}

func TestClient_NotFoundMapsToStoreError(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.GetSnapshot(ctx, "zzzz")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.ListEvents(ctx, "ZZZZ")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = c.PutSnapshot(ctx, "ZZZZ", models.Snapshot{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClient_ValidationErrorKeepsStatus(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Create(context.Background(), api.CreateRequest{Players: []string{"Anna"}})
	require.Error(t, err)

	var se *clients.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}
