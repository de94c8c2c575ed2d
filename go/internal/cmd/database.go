package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/archive"
	"github.com/mcdev12/wissel/go/internal/dbconfig"
)

func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, error) {
	pool, err := archive.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("target", cfg.Target()).
		Int32("max_conns", cfg.MaxConns).
		Msg("connected to database")
	return pool, nil
}
