package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wissel/go/internal/models"
)

type fakeJS struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeJS) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	return &jetstream.PubAck{Stream: "MATCH_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

type countingMetrics struct {
	published map[string]int
	failed    int
}

func (c *countingMetrics) RecordSnapshotWrite(bool, time.Duration) {}
func (c *countingMetrics) RecordEventsAppended(int, bool)          {}
func (c *countingMetrics) RecordViewerPoll(bool, time.Duration)    {}
func (c *countingMetrics) SetViewerConnections(int)                {}
func (c *countingMetrics) RecordEventPublished(eventType string, success bool) {
	if !success {
		c.failed++
		return
	}
	if c.published == nil {
		c.published = map[string]int{}
	}
	c.published[eventType]++
}

func TestPublisher_PublishMatchEvent(t *testing.T) {
	js := &fakeJS{}
	clk := clockwork.NewFakeClockAt(time.Date(2026, 9, 12, 10, 0, 0, 0, time.UTC))
	m := &countingMetrics{}
	p := newPublisher(js, DefaultConfig(), clk, m)
	p.newID = func() string { return "evt-1" }

	ev := models.MatchEvent{Type: models.EventTypeGoalHome, Time: "12:03", Half: 1, Scorer: "Anna"}
	require.NoError(t, p.PublishMatchEvent(context.Background(), "k7qp", ev))

	require.Len(t, js.msgs, 1)
	msg := js.msgs[0]
	assert.Equal(t, "match.events.K7QP", msg.Subject)
	assert.Equal(t, "goal_home", msg.Header.Get("Event-Type"))
	assert.Equal(t, "K7QP", msg.Header.Get("Match-Code"))
	assert.Equal(t, "evt-1", msg.Header.Get("Event-ID"))

	env, err := Decode(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "K7QP", env.Code)
	assert.Equal(t, clk.Now(), env.Timestamp)
	assert.Equal(t, ev, env.Event)
	assert.Equal(t, 1, m.published["goal_home"])
}

func TestPublisher_Error(t *testing.T) {
	js := &fakeJS{err: errors.New("no responders")}
	m := &countingMetrics{}
	p := newPublisher(js, DefaultConfig(), clockwork.NewFakeClock(), m)

	err := p.PublishMatchEvent(context.Background(), "K7QP", models.MatchEvent{Type: models.EventTypePhoto})
	assert.Error(t, err)
	assert.Equal(t, 1, m.failed)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "valid", data: `{"eventId":"e","code":"K7QP","event":{"type":"half_end","time":"20:00","half":1}}`},
		{name: "no code", data: `{"eventId":"e","event":{"type":"half_end"}}`, wantErr: true},
		{name: "garbage", data: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Subject(t *testing.T) {
	assert.Equal(t, "match.events.AB23", DefaultConfig().Subject(" ab23 "))
}
