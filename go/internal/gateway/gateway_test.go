package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wissel/go/internal/eventbus"
	"github.com/mcdev12/wissel/go/internal/models"
)

func newTestGateway(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := NewService(ctx, DefaultConfig(), nil, clockwork.NewFakeClock(), nil)
	require.NoError(t, err)
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/match?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGateway_BroadcastsToViewersOfMatch(t *testing.T) {
	svc, srv := newTestGateway(t)

	viewer := dial(t, srv, "code=k7qp&viewer=v1")
	other := dial(t, srv, "code=AB23")

	require.Eventually(t, func() bool {
		return svc.Stats().TotalConnections == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, svc.Stats().Matches["K7QP"])

	ev := models.MatchEvent{Type: models.EventTypeGoalHome, Time: "4:10", Half: 1, Scorer: "Eva"}
	require.NoError(t, svc.PublishMatchEvent(context.Background(), "K7QP", ev))

	viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := viewer.ReadMessage()
	require.NoError(t, err)

	var env eventbus.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "K7QP", env.Code)
	assert.Equal(t, ev, env.Event)
	assert.NotEmpty(t, env.EventID)

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "viewers of another match get nothing")
}

func TestGateway_ConnectionClosedIsUnregistered(t *testing.T) {
	svc, srv := newTestGateway(t)
	conn := dial(t, srv, "code=K7QP")
	require.Eventually(t, func() bool { return svc.Stats().TotalConnections == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return svc.Stats().TotalConnections == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, svc.Stats().ActiveMatches)
}

func TestWebSocketHandler_RejectsBadCodes(t *testing.T) {
	_, srv := newTestGateway(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "missing", query: "", want: http.StatusBadRequest},
		{name: "look-alike characters", query: "code=K0O1", want: http.StatusBadRequest},
		{name: "too long", query: "code=K7QPX", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/ws/match?" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestWebSocketHandler_Stats(t *testing.T) {
	_, srv := newTestGateway(t)
	resp, err := http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Zero(t, stats.TotalConnections)
}

func TestEventConsumer_ProcessMessage(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), nil)
	ec := &EventConsumer{connectionManager: cm, config: DefaultJetStreamConsumerConfig()}

	require.Error(t, ec.processMessage("match.events.K7QP", []byte("not json")))

	data, err := json.Marshal(eventbus.Envelope{EventID: "e1", Code: "K7QP", Event: models.MatchEvent{Type: models.EventTypeHalfEnd}})
	require.NoError(t, err)
	require.NoError(t, ec.processMessage("match.events.K7QP", data))

	select {
	case msg := <-cm.broadcastCh:
		assert.Equal(t, "K7QP", msg.MatchCode)
		assert.Equal(t, models.EventTypeHalfEnd, msg.Envelope.Event.Type)
	default:
		t.Fatal("nothing queued for broadcast")
	}
}

func TestService_ConsumerInfoWithoutJetStream(t *testing.T) {
	svc, _ := newTestGateway(t)
	_, err := svc.ConsumerInfo(context.Background())
	assert.ErrorIs(t, err, ErrNoConsumer)
}
