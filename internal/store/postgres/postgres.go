// Package postgres implements the store contracts on PostgreSQL via pgx.
// Nested collections (aliases, references, history, report components)
// live in JSONB columns so reads stay single-row.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyglass/storyglass/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	maxConns          = 25
	minConns          = 2
	maxConnLifetime   = 60 * time.Minute
	maxConnIdleTime   = 10 * time.Minute
	healthCheckPeriod = time.Minute
	connectTimeout    = 5 * time.Second
)

// Store is the pgx-backed store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects a pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid dsn: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = maxConnLifetime
	cfg.MaxConnIdleTime = maxConnIdleTime
	cfg.HealthCheckPeriod = healthCheckPeriod
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	logger.Info("postgres pool ready", "max_conns", maxConns)
	return &Store{pool: pool, logger: logger.With("component", "postgres")}, nil
}

// Migrate applies the embedded schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) Works() store.Works           { return worksRepo{s.pool} }
func (s *Store) Chapters() store.Chapters     { return chaptersRepo{s.pool} }
func (s *Store) Scenes() store.Scenes         { return scenesRepo{s.pool} }
func (s *Store) Entities() store.Entities     { return entitiesRepo{s.pool} }
func (s *Store) References() store.References { return referencesRepo{s.pool} }
func (s *Store) Evolutions() store.Evolutions { return evolutionsRepo{s.pool} }
func (s *Store) Prompts() store.Prompts       { return promptsRepo{s.pool} }
func (s *Store) Images() store.Images         { return imagesRepo{s.pool} }
func (s *Store) Reports() store.Reports       { return reportsRepo{s.pool} }
func (s *Store) Jobs() store.Jobs             { return jobsRepo{s.pool} }
func (s *Store) Edges() store.Edges           { return edgesRepo{s.pool} }
