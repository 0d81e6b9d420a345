package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/boxctl/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		path:        cfg.Path,
		busyTimeout: cfg.BusyTimeout,
	}, nil
}

// Open creates, initializes and migrates a store at path, creating the
// parent directory when needed.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database. A single connection is used, so an in-memory
// database lives as long as the store.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", s.path, s.busyTimeout.Milliseconds())
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// StartRun records a run that has just begun.
func (s *SQLiteStore) StartRun(ctx context.Context, run *engine.RunRecord) error {
	query := `
		INSERT INTO runs (id, operation, workdir, status, changed, error_class, error_code, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		string(run.Operation),
		run.Workdir,
		string(run.Status),
		run.Changed,
		string(run.ErrorClass),
		run.ErrorCode,
		run.ErrorMessage,
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun stores the outcome of a run and its final instance statuses.
// A run that was never started is inserted. The status must be terminal.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *engine.RunRecord) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("run %s cannot finish with status %q", run.ID, run.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO runs (id, operation, workdir, status, changed, error_class, error_code, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			changed = excluded.changed,
			error_class = excluded.error_class,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			finished_at = excluded.finished_at
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID,
		string(run.Operation),
		run.Workdir,
		string(run.Status),
		run.Changed,
		string(run.ErrorClass),
		run.ErrorCode,
		run.ErrorMessage,
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_instances WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear run instances: %w", err)
	}
	for i, inst := range run.Instances {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_instances (run_id, position, name, state, raw_state, provider)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, inst.Name, string(inst.State), inst.RawState, inst.Provider)
		if err != nil {
			return fmt.Errorf("failed to record instance %s: %w", inst.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID or by a unique ID prefix.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.RunRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}

	query := `
		SELECT id, operation, workdir, status, changed, error_class, error_code, error_message, started_at, finished_at
		FROM runs
		WHERE id = ? OR substr(id, 1, ?) = ?
		ORDER BY id = ? DESC
		LIMIT 2
	`
	rows, err := s.db.QueryContext(ctx, query, id, len(id), id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case runs[0].ID != id && len(runs) > 1:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, id)
	}

	run := runs[0]
	if err := s.loadInstances(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs, newest first. Instance statuses are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]*engine.RunRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.Workdir != "" {
		where = append(where, "workdir = ?")
		args = append(args, opts.Workdir)
	}
	if opts.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(opts.Operation))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `
		SELECT id, operation, workdir, status, changed, error_class, error_code, error_message, started_at, finished_at
		FROM runs`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY started_at DESC, id DESC\n\t\tLIMIT ? OFFSET ?"

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return scanRuns(rows)
}

// DeleteRun deletes a run and its instance statuses.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// PruneRuns keeps the newest keep runs and deletes the rest.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative: %d", keep)
	}

	query := `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`
	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) loadInstances(ctx context.Context, run *engine.RunRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, state, raw_state, provider
		FROM run_instances
		WHERE run_id = ?
		ORDER BY position
	`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load run instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			inst  engine.LiveInstanceStatus
			state string
		)
		if err := rows.Scan(&inst.Name, &state, &inst.RawState, &inst.Provider); err != nil {
			return fmt.Errorf("failed to scan run instance: %w", err)
		}
		inst.State = engine.LifecycleState(state)
		run.Instances = append(run.Instances, inst)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating run instances: %w", err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]*engine.RunRecord, error) {
	defer rows.Close()

	runs := []*engine.RunRecord{}
	for rows.Next() {
		var (
			run                                      engine.RunRecord
			operation, status, errorClass, startedAt string
			finishedAt                               sql.NullString
		)
		err := rows.Scan(
			&run.ID,
			&operation,
			&run.Workdir,
			&status,
			&run.Changed,
			&errorClass,
			&run.ErrorCode,
			&run.ErrorMessage,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.Operation = engine.Operation(operation)
		run.Status = engine.RunStatus(status)
		run.ErrorClass = engine.ErrorClass(errorClass)
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
