// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/job-listing-crawler/internal/store"
)

// Schema creates the run-history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	listings      BIGINT NOT NULL DEFAULT 0,
	saved         BIGINT NOT NULL DEFAULT 0,
	duplicate     BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	skipped       BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS crawl_run_sites (
	run_id      UUID NOT NULL REFERENCES crawl_runs (id) ON DELETE CASCADE,
	site        TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	listings    BIGINT NOT NULL DEFAULT 0,
	saved       BIGINT NOT NULL DEFAULT 0,
	duplicate   BIGINT NOT NULL DEFAULT 0,
	failed      BIGINT NOT NULL DEFAULT 0,
	skipped     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, site)
);
CREATE INDEX IF NOT EXISTS crawl_runs_started_at_idx ON crawl_runs (started_at DESC);
`

// Config controls the connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres and optionally applies Schema.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RunStore{pool: p}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool.
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Ping verifies a connection can be acquired.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies Schema.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// StartRun inserts the run as running.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	const query = `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// AddSiteCounters upserts the per-site row, adding delta to it.
func (s *RunStore) AddSiteCounters(ctx context.Context, delta store.SiteCounters) error {
	const query = `
		INSERT INTO crawl_run_sites (run_id, site, last_update, listings, saved, duplicate, failed, skipped)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, site) DO UPDATE SET
			last_update = GREATEST(crawl_run_sites.last_update, EXCLUDED.last_update),
			listings = crawl_run_sites.listings + EXCLUDED.listings,
			saved = crawl_run_sites.saved + EXCLUDED.saved,
			duplicate = crawl_run_sites.duplicate + EXCLUDED.duplicate,
			failed = crawl_run_sites.failed + EXCLUDED.failed,
			skipped = crawl_run_sites.skipped + EXCLUDED.skipped;`
	_, err := s.pool.Exec(ctx, query,
		delta.RunID,
		delta.Site,
		delta.LastUpdate,
		delta.Listings,
		delta.Saved,
		delta.Duplicate,
		delta.Failed,
		delta.Skipped,
	)
	if err != nil {
		return fmt.Errorf("add site counters: %w", err)
	}
	return nil
}

// FinishRun closes the run and totals its site rows.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	const query = `
		UPDATE crawl_runs AS r SET
			finished_at = $2, status = $3, error_message = $4,
			listings = t.listings, saved = t.saved, duplicate = t.duplicate,
			failed = t.failed, skipped = t.skipped
		FROM (
			SELECT COALESCE(SUM(listings), 0) AS listings, COALESCE(SUM(saved), 0) AS saved,
				COALESCE(SUM(duplicate), 0) AS duplicate, COALESCE(SUM(failed), 0) AS failed,
				COALESCE(SUM(skipped), 0) AS skipped
			FROM crawl_run_sites WHERE run_id = $1
		) AS t
		WHERE r.id = $1;`
	tag, err := s.pool.Exec(ctx, query, runID, finishedAt, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, listings, saved, duplicate, failed, skipped, error_message`

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Listings,
		&run.Saved,
		&run.Duplicate,
		&run.Failed,
		&run.Skipped,
		&run.ErrorMessage,
	)
	run.Status = store.RunStatus(status)
	return run, err
}

// GetRun loads one run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1;`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunSites returns the per-site counters of a run ordered by site.
func (s *RunStore) ListRunSites(ctx context.Context, runID uuid.UUID) ([]store.SiteCounters, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, site, last_update, listings, saved, duplicate, failed, skipped
		FROM crawl_run_sites
		WHERE run_id = $1
		ORDER BY site;`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	sites := []store.SiteCounters{}
	for rows.Next() {
		var c store.SiteCounters
		if err := rows.Scan(
			&c.RunID,
			&c.Site,
			&c.LastUpdate,
			&c.Listings,
			&c.Saved,
			&c.Duplicate,
			&c.Failed,
			&c.Skipped,
		); err != nil {
			return nil, fmt.Errorf("scan run site: %w", err)
		}
		sites = append(sites, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	return sites, nil
}
