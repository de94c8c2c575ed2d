// Package eventbus mirrors match event log entries onto a JetStream stream
// so live gateways can push them to viewers without polling.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/metrics"
	"github.com/mcdev12/wissel/go/internal/models"
)

type Config struct {
	StreamName      string
	SubjectPrefix   string
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultConfig() Config {
	return Config{
		StreamName:      "MATCH_EVENTS",
		SubjectPrefix:   "match.events",
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// Subject is the subject events of one match are published on.
func (c Config) Subject(matchCode string) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, code.Canonical(matchCode))
}

// Envelope is the message body on the stream.
type Envelope struct {
	EventID   string            `json:"eventId"`
	Code      string            `json:"code"`
	Timestamp time.Time         `json:"timestamp"`
	Event     models.MatchEvent `json:"event"`
}

// Decode parses an envelope from a message body.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.Code == "" {
		return Envelope{}, fmt.Errorf("event envelope %s has no match code", env.EventID)
	}
	return env, nil
}

// msgPublisher is the part of jetstream.JetStream used for publishing.
type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type JetStreamPublisher struct {
	js      msgPublisher
	config  Config
	clock   clockwork.Clock
	metrics metrics.MetricsCollector
	newID   func() string
}

// NewJetStreamPublisher makes sure the stream exists and returns a
// publisher on it.
func NewJetStreamPublisher(ctx context.Context, js jetstream.JetStream, cfg Config, clock clockwork.Clock, m metrics.MetricsCollector) (*JetStreamPublisher, error) {
	if err := EnsureStream(ctx, js, cfg); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return newPublisher(js, cfg, clock, m), nil
}

func newPublisher(js msgPublisher, cfg Config, clock clockwork.Clock, m metrics.MetricsCollector) *JetStreamPublisher {
	if m == nil {
		m = &metrics.NoOpMetricsCollector{}
	}
	return &JetStreamPublisher{
		js:      js,
		config:  cfg,
		clock:   clock,
		metrics: m,
		newID:   func() string { return uuid.New().String() },
	}
}

// EnsureStream creates the stream, or updates it when its limits changed.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Match event log entries for live viewers",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// PublishMatchEvent publishes one event of the match with the given code.
func (p *JetStreamPublisher) PublishMatchEvent(ctx context.Context, matchCode string, event models.MatchEvent) error {
	c := code.Canonical(matchCode)
	subject := p.config.Subject(c)
	env := Envelope{
		EventID:   p.newID(),
		Code:      c,
		Timestamp: p.clock.Now().UTC(),
		Event:     event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Match-Code": []string{c},
			"Event-ID":   []string{env.EventID},
		},
	},
		jetstream.WithMsgID(env.EventID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	p.metrics.RecordEventPublished(string(event.Type), err == nil)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", env.EventID).
		Str("event_type", string(event.Type)).
		Uint64("sequence", ack.Sequence).
		Msg("published match event")
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
