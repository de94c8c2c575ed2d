// Package archive keeps ended matches in Postgres after their live state
// expires from the store.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/dbconfig"
	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS match_archive (
	code         TEXT PRIMARY KEY,
	ended_at     TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	home_team    TEXT NOT NULL,
	away_team    TEXT NOT NULL,
	home_score   INTEGER NOT NULL,
	away_score   INTEGER NOT NULL,
	total_halves INTEGER NOT NULL,
	play_seconds JSONB NOT NULL,
	goal_scorers JSONB NOT NULL,
	sub_history  JSONB NOT NULL
)`

const upsert = `
INSERT INTO match_archive (
	code, ended_at, created_at, home_team, away_team, home_score, away_score,
	total_halves, play_seconds, goal_scorers, sub_history
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (code) DO UPDATE SET
	ended_at = EXCLUDED.ended_at,
	home_score = EXCLUDED.home_score,
	away_score = EXCLUDED.away_score,
	play_seconds = EXCLUDED.play_seconds,
	goal_scorers = EXCLUDED.goal_scorers,
	sub_history = EXCLUDED.sub_history`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Record is one archived match.
type Record struct {
	Code        string
	EndedAt     time.Time
	CreatedAt   time.Time
	HomeTeam    string
	AwayTeam    string
	HomeScore   int
	AwayScore   int
	TotalHalves int
	PlaySeconds map[string]int
	GoalScorers map[string]int
	SubHistory  []models.SubRecord
}

// NewRecord summarises an ended snapshot.
func NewRecord(snap models.Snapshot, endedAt time.Time) Record {
	r := Record{
		Code:        code.Canonical(snap.Code),
		EndedAt:     endedAt.UTC(),
		CreatedAt:   snap.CreatedAt.UTC(),
		HomeTeam:    snap.HomeTeam,
		AwayTeam:    snap.AwayTeam,
		HomeScore:   snap.HomeScore,
		AwayScore:   snap.AwayScore,
		TotalHalves: snap.TotalHalves,
		PlaySeconds: snap.PlaySeconds,
		GoalScorers: snap.GoalScorers,
		SubHistory:  snap.SubHistory,
	}
	if r.PlaySeconds == nil {
		r.PlaySeconds = map[string]int{}
	}
	if r.GoalScorers == nil {
		r.GoalScorers = map[string]int{}
	}
	if r.SubHistory == nil {
		r.SubHistory = []models.SubRecord{}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.EndedAt
	}
	return r
}

type Store struct {
	db    execer
	clock clockwork.Clock
}

// Open connects to Postgres and checks the connection.
func Open(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool, clock clockwork.Clock) *Store {
	return &Store{db: pool, clock: clock}
}

// EnsureSchema creates the archive table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create match_archive: %w", err)
	}
	return nil
}

// Archive stores the snapshot's summary. Archiving the same match again
// replaces the earlier record.
func (s *Store) Archive(ctx context.Context, snap models.Snapshot) error {
	return s.Save(ctx, NewRecord(snap, s.clock.Now()))
}

func (s *Store) Save(ctx context.Context, r Record) error {
	playSeconds, err := json.Marshal(r.PlaySeconds)
	if err != nil {
		return fmt.Errorf("encode play seconds: %w", err)
	}
	goalScorers, err := json.Marshal(r.GoalScorers)
	if err != nil {
		return fmt.Errorf("encode goal scorers: %w", err)
	}
	subHistory, err := json.Marshal(r.SubHistory)
	if err != nil {
		return fmt.Errorf("encode sub history: %w", err)
	}

	tag, err := s.db.Exec(ctx, upsert,
		r.Code, r.EndedAt, r.CreatedAt, r.HomeTeam, r.AwayTeam, r.HomeScore, r.AwayScore,
		r.TotalHalves, playSeconds, goalScorers, subHistory,
	)
	if err != nil {
		return fmt.Errorf("archive match %s: %w", r.Code, err)
	}

	log.Info().
		Str("code", r.Code).
		Int("home_score", r.HomeScore).
		Int("away_score", r.AwayScore).
		Int64("rows", tag.RowsAffected()).
		Msg("archived match")
	return nil
}
