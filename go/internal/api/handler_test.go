package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wissel/go/internal/match/repository"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store/memstore"
)

type recordingArchiver struct {
	mu    sync.Mutex
	snaps []models.Snapshot
}

func (a *recordingArchiver) Archive(_ context.Context, snap models.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	return nil
}

type testAPI struct {
	clock    *clockwork.FakeClock
	repo     *repository.Repository
	archiver *recordingArchiver
	mux      *http.ServeMux
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	repo := repository.New(memstore.New(clk), clk, repository.DefaultConfig())
	archiver := &recordingArchiver{}

	mux := http.NewServeMux()
	NewHandler(repo, WithArchiver(archiver)).RegisterRoutes(mux)
	return &testAPI{clock: clk, repo: repo, archiver: archiver, mux: mux}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T) CreateResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/match", CreateRequest{
		AwayTeam:       "VV Oost",
		Players:        []string{"Anna", "Bram", "Cas", "Daan", "Eva", "Fien", "Gijs"},
		Keeper:         "Anna",
		PlayersOnField: 5,
		HalfDuration:   20,
		SubInterval:    5,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreate_AppliesMinuteDurationsAndDefaults(t *testing.T) {
	a := newTestAPI(t)
	resp := a.create(t)

	assert.Len(t, resp.Code, 4)
	assert.Equal(t, resp.Code, resp.Match.Code)
	assert.Equal(t, "Dilettant", resp.Match.HomeTeam)
	assert.Equal(t, "VV Oost", resp.Match.AwayTeam)
	assert.Equal(t, 1200, resp.Match.HalfDurationSeconds)
	assert.Equal(t, 300, resp.Match.SubIntervalSeconds)
	assert.Equal(t, 2, resp.Match.TotalHalves)
	assert.Len(t, resp.Match.FieldSet, 5)
	assert.Equal(t, models.MatchStatusSetup, resp.Match.Status)
}

func TestCreate_Rejects(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "not json", body: "nope"},
		{name: "roster too small", body: CreateRequest{Players: []string{"Anna", "Bram"}, PlayersOnField: 5}},
		{name: "duplicate player", body: CreateRequest{Players: []string{"Anna", "Anna", "Bram", "Cas", "Daan", "Eva"}}},
		{name: "keeper not in roster", body: CreateRequest{Players: []string{"Anna", "Bram", "Cas", "Daan", "Eva", "Fien"}, Keeper: "Zoe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/match", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGet_CountsViewers(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	path := "/api/match/" + created.Code

	rec := a.do(t, http.MethodGet, path, nil, http.Header{"X-Forwarded-For": {"10.0.0.1, 172.16.0.1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, path, nil, http.Header{"X-Real-Ip": {"10.0.0.2"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Viewers)

	// Same forwarded client again.
	rec = a.do(t, http.MethodGet, path, nil, http.Header{"X-Forwarded-For": {"10.0.0.1"}})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Viewers)
}

func TestGet_NotFound(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/match/ZZZZ", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Match not found"}`, rec.Body.String())
}

func TestPut_ArchivesEndedMatches(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	snap := created.Match
	path := "/api/match/" + created.Code

	snap.View = models.MatchViewMatch
	snap.IsRunning = true
	rec := a.do(t, http.MethodPut, path, snap, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, a.archiver.snaps)

	snap.View = models.MatchViewSummary
	snap.IsRunning = false
	snap.HomeScore = 3
	rec = a.do(t, http.MethodPut, path, snap, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, a.archiver.snaps, 1)
	assert.Equal(t, 3, a.archiver.snaps[0].HomeScore)
	assert.Equal(t, created.Code, a.archiver.snaps[0].Code)

	stored, err := a.repo.GetSnapshot(context.Background(), created.Code)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusEnded, stored.Status)
}

func TestPut_UnknownMatch(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	rec := a.do(t, http.MethodPut, "/api/match/ZZZZ", created.Match, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_AppendStampsServerTime(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	path := "/api/match/" + created.Code + "/events"

	rec := a.do(t, http.MethodPost, path, models.MatchEvent{
		Type:   models.EventTypeGoalHome,
		Time:   "3:20",
		Half:   1,
		Scorer: "Eva",
		At:     time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ev models.MatchEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.True(t, a.clock.Now().Equal(ev.At))

	rec = a.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.MatchEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Eva", events[0].Scorer)

	rec = a.do(t, http.MethodPost, path, map[string]string{"type": "bogus"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/match/ZZZZ/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// echoPublisher appends a second event from another writer while the first
// is still being handled.
type echoPublisher struct {
	repo *repository.Repository
	done atomic.Bool
}

func (p *echoPublisher) PublishMatchEvent(ctx context.Context, code string, _ models.MatchEvent) error {
	if p.done.CompareAndSwap(false, true) {
		_ = p.repo.AppendEvents(ctx, code, models.MatchEvent{Type: models.EventTypeGoalAway, Time: "3:21", Half: 1})
	}
	return nil
}

func TestEvents_AppendReturnsOwnEvent(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	pub := &echoPublisher{}
	repo := repository.New(memstore.New(clk), clk, repository.DefaultConfig(), repository.WithPublisher(pub))
	pub.repo = repo
	a := &testAPI{clock: clk, repo: repo, archiver: &recordingArchiver{}, mux: http.NewServeMux()}
	NewHandler(repo).RegisterRoutes(a.mux)
	created := a.create(t)
	path := "/api/match/" + created.Code + "/events"

	rec := a.do(t, http.MethodPost, path, models.MatchEvent{Type: models.EventTypeGoalHome, Time: "3:20", Half: 1, Scorer: "Eva"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ev models.MatchEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, models.EventTypeGoalHome, ev.Type)
	assert.Equal(t, "Eva", ev.Scorer)

	events, err := repo.ListEvents(context.Background(), created.Code)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeGoalAway, events[1].Type)
}

func TestLive_ListsCreatedMatches(t *testing.T) {
	a := newTestAPI(t)
	first := a.create(t)
	a.clock.Advance(time.Minute)
	second := a.create(t)

	rec := a.do(t, http.MethodGet, "/api/match/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, second.Code, resp.Matches[0].Code)
	assert.Equal(t, first.Code, resp.Matches[1].Code)
}
