// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "crawl_runs"

// RunStoreConfig controls the Postgres connection pool used for run records.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore persists crawl runs in Postgres.
type RunStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database.dsn is required", crawler.ErrConfiguration)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %w", crawler.ErrConfiguration, err)
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
	store, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", crawler.ErrConfiguration, table)
	}
	return &RunStore{
		pool:  p,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the runs table when it does not exist yet.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL,
	url_count      INTEGER NOT NULL DEFAULT 0,
	batch_size     INTEGER NOT NULL DEFAULT 0,
	batch_count    INTEGER NOT NULL DEFAULT 0,
	item_count     INTEGER NOT NULL DEFAULT 0,
	failed_batches INTEGER NOT NULL DEFAULT 0,
	uri            TEXT NOT NULL DEFAULT '',
	error_text     TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	started := run.Started
	if started.IsZero() {
		started = s.now()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, kind, status, url_count, batch_size, batch_count, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.table)
	args := []any{
		run.ID,
		string(run.Kind),
		string(run.Status),
		run.URLCount,
		run.BatchSize,
		run.BatchCount,
		started,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun stores the terminal status of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID string,
	status crawler.RunStatus,
	uri string,
	errText string,
	counters crawler.RunCounters,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, uri = $2, error_text = $3, batch_count = $4, item_count = $5,
	failed_batches = $6, finished_at = $7
WHERE id = $8`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(status),
		uri,
		errText,
		counters.BatchCount,
		counters.ItemCount,
		counters.FailedBatches,
		s.now(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	query := fmt.Sprintf(`
SELECT id, kind, status, url_count, batch_size, batch_count, item_count, failed_batches,
	uri, error_text, started_at, finished_at
FROM %s WHERE id = $1`, s.table)

	var (
		run      crawler.Run
		kind     string
		status   string
		finished *time.Time
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&kind,
		&status,
		&run.URLCount,
		&run.BatchSize,
		&run.BatchCount,
		&run.ItemCount,
		&run.FailedBatches,
		&run.URI,
		&run.ErrorText,
		&run.Started,
		&finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Run{}, fmt.Errorf("%w: %s", crawler.ErrRunNotFound, runID)
	}
	if err != nil {
		return crawler.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Kind = crawler.Kind(kind)
	run.Status = crawler.RunStatus(status)
	run.Finished = finished
	return run, nil
}
