// Package postgres provides a PostgreSQL storage.HistoryStore built on a
// pgx/v5 connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/storage"
)

// Store is a PostgreSQL-backed HistoryStore.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ storage.HistoryStore     = (*Store)(nil)
	_ executor.HistoryRecorder = (*Store)(nil)
)

// New opens a pool for cfg and verifies connectivity. If MigrateOnStart
// is set, pending schema migrations are applied.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

const selectColumns = `request_id, server_id, server_name, tool_name, source,
	document_path, status, error_message, duration_us, started_at`

// RecordExecution inserts a finalized entry.
func (s *Store) RecordExecution(ctx context.Context, e api.ExecutionHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tool_executions (
			request_id, tenant_id, server_id, server_name, tool_name, source,
			document_path, status, error_message, duration_us, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.RequestID, storage.GetTenant(ctx), e.ServerID, e.ServerName, e.ToolName, string(e.Source),
		e.DocumentPath, string(e.Status), e.ErrorMessage, e.Duration.Microseconds(), e.Timestamp,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution returns one entry by request ID.
func (s *Store) GetExecution(ctx context.Context, requestID string) (api.ExecutionHistoryEntry, error) {
	q := newQuery()
	q.where("request_id", requestID)
	q.tenant(ctx)

	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM tool_executions"+q.clause(), q.args...)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.ExecutionHistoryEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return api.ExecutionHistoryEntry{}, fmt.Errorf("querying execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns matching entries, newest first.
func (s *Store) ListExecutions(ctx context.Context, f storage.Filter) ([]api.ExecutionHistoryEntry, error) {
	q := newQuery()
	q.tenant(ctx)
	q.where("server_id", f.ServerID)
	q.where("tool_name", f.ToolName)
	q.where("document_path", f.DocumentPath)
	q.where("source", string(f.Source))
	q.where("status", string(f.Status))
	if !f.Since.IsZero() {
		q.cond("started_at >= ", f.Since)
	}
	q.args = append(q.args, f.MaxResults())
	sql := fmt.Sprintf("SELECT %s FROM tool_executions%s ORDER BY started_at DESC, request_id DESC LIMIT $%d",
		selectColumns, q.clause(), len(q.args))

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var out []api.ExecutionHistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanEntry(row pgx.Row) (api.ExecutionHistoryEntry, error) {
	var e api.ExecutionHistoryEntry
	var source, status string
	var durationUS int64
	err := row.Scan(
		&e.RequestID, &e.ServerID, &e.ServerName, &e.ToolName, &source,
		&e.DocumentPath, &status, &e.ErrorMessage, &durationUS, &e.Timestamp,
	)
	if err != nil {
		return api.ExecutionHistoryEntry{}, err
	}
	e.Source = api.ExecutionSource(source)
	e.Status = api.ExecutionStatus(status)
	e.Duration = time.Duration(durationUS) * time.Microsecond
	return e, nil
}

// query accumulates WHERE conditions with positional arguments.
type query struct {
	conds []string
	args  []any
}

func newQuery() *query { return &query{} }

func (q *query) cond(expr string, arg any) {
	q.args = append(q.args, arg)
	q.conds = append(q.conds, fmt.Sprintf("%s$%d", expr, len(q.args)))
}

// where adds column = value unless value is empty.
func (q *query) where(column, value string) {
	if value != "" {
		q.cond(column+" = ", value)
	}
}

func (q *query) tenant(ctx context.Context) {
	q.where("tenant_id", storage.GetTenant(ctx))
}

func (q *query) clause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

// isDuplicateKey reports a unique violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
