package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/api"
	"github.com/mcdev12/wissel/go/internal/archive"
	"github.com/mcdev12/wissel/go/internal/config"
	"github.com/mcdev12/wissel/go/internal/eventbus"
	"github.com/mcdev12/wissel/go/internal/gateway"
	"github.com/mcdev12/wissel/go/internal/health"
	"github.com/mcdev12/wissel/go/internal/match/repository"
	"github.com/mcdev12/wissel/go/internal/metrics"
	"github.com/mcdev12/wissel/go/internal/natsutil"
	"github.com/mcdev12/wissel/go/internal/store"
	"github.com/mcdev12/wissel/go/internal/store/memstore"
	"github.com/mcdev12/wissel/go/internal/store/natskv"
)

type Services struct {
	Metrics *metrics.PrometheusMetrics
	Repo    *repository.Repository
	API     *api.Handler
	Gateway *gateway.Service
	Health  *health.Checker

	nc   *nats.Conn
	pool *pgxpool.Pool
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Repository → API, with the event bus feeding the gateway
	clock := clockwork.NewRealClock()
	s := &Services{Metrics: metrics.NewPrometheusMetrics(prometheus.NewRegistry())}

	var (
		kv        store.KV
		js        jetstream.JetStream
		publisher repository.EventPublisher
	)
	switch cfg.Store.Backend {
	case config.BackendNATS:
		connCfg := natsutil.DefaultConnConfig()
		connCfg.URL = cfg.NATS.URL
		nc, err := natsutil.Connect(connCfg)
		if err != nil {
			return nil, err
		}
		s.nc = nc

		js, err = jetstream.New(nc)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		kvCfg := natskv.DefaultConfig()
		kvCfg.Bucket = cfg.Store.Bucket
		kvCfg.MaxAge = cfg.Store.MatchTTL
		if kv, err = natskv.Open(ctx, js, kvCfg, clock); err != nil {
			s.Close()
			return nil, err
		}

		bus, err := eventbus.NewJetStreamPublisher(ctx, js, eventbus.DefaultConfig(), clock, s.Metrics)
		if err != nil {
			s.Close()
			return nil, err
		}
		publisher = bus
	default:
		kv = memstore.New(clock)
	}

	gw, err := gateway.NewService(ctx, gateway.DefaultConfig(), js, clock, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Gateway = gw
	if publisher == nil {
		// Without NATS the gateway hears about events directly.
		publisher = gw
	}

	repoCfg := repository.DefaultConfig()
	repoCfg.MatchTTL = cfg.Store.MatchTTL
	s.Repo = repository.New(kv, clock, repoCfg,
		repository.WithPublisher(publisher),
		repository.WithMetrics(s.Metrics),
	)

	var apiOpts []api.HandlerOption
	if cfg.Archive.Enabled {
		pool, err := setupDatabase(ctx, cfg.Database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.pool = pool

		archiveStore := archive.New(pool, clock)
		if err := archiveStore.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithArchiver(archiveStore))
	}
	s.API = api.NewHandler(s.Repo, apiOpts...)

	healthOpts := []health.Option{
		health.WithViewers(func() int { return s.Gateway.Stats().TotalConnections }),
	}
	if s.nc != nil {
		healthOpts = append(healthOpts, health.WithNATS(s.nc), health.WithConsumer(s.consumerStats))
	}
	if s.pool != nil {
		healthOpts = append(healthOpts, health.WithDatabase(s.pool))
	}
	s.Health = health.NewChecker(cfg.Store.Backend, healthOpts...)
	return s, nil
}

func (s *Services) consumerStats(ctx context.Context) (health.ConsumerStats, error) {
	info, err := s.Gateway.ConsumerInfo(ctx)
	if err != nil {
		return health.ConsumerStats{}, err
	}
	return health.ConsumerStats{
		Pending:     info.NumPending,
		AckPending:  info.NumAckPending,
		Redelivered: info.NumRedelivered,
	}, nil
}

// Close releases connections opened by setupServices.
func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
}
