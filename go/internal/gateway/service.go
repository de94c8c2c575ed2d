// Package gateway pushes match events to live viewers over WebSockets.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/eventbus"
	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/metrics"
	"github.com/mcdev12/wissel/go/internal/models"
)

// ErrNoConsumer is returned for consumer queries on a gateway without JetStream
var ErrNoConsumer = errors.New("gateway has no event consumer")

// Service is the live gateway: viewer connections plus, when JetStream is
// available, the consumer feeding them
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	clock             clockwork.Clock
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates a gateway. With a nil js events only reach viewers
// through PublishMatchEvent.
func NewService(ctx context.Context, config Config, js jetstream.JetStream, clock clockwork.Clock, m metrics.MetricsCollector) (*Service, error) {
	cm := NewConnectionManager(config.ConnectionConfig, m)
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		clock:             clock,
	}
	if js != nil {
		ec, err := NewEventConsumer(ctx, cm, js, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = ec
	}
	return s, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("jetstream", s.eventConsumer != nil).Msg("starting match gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("match gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("match gateway routes registered")
}

// Stats returns statistics about open viewer connections
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// ConsumerInfo returns the state of the JetStream consumer feeding viewers
func (s *Service) ConsumerInfo(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	if s.eventConsumer == nil {
		return nil, ErrNoConsumer
	}
	return s.eventConsumer.GetConsumerInfo(ctx)
}

// PublishMatchEvent delivers an event straight to this process's viewers.
// It lets a single binary run without NATS.
func (s *Service) PublishMatchEvent(ctx context.Context, matchCode string, event models.MatchEvent) error {
	c := code.Canonical(matchCode)
	s.connectionManager.BroadcastToMatch(c, eventbus.Envelope{
		EventID:   uuid.New().String(),
		Code:      c,
		Timestamp: s.clock.Now().UTC(),
		Event:     event,
	})
	return nil
}
