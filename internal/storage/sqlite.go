package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding ask history and refresh runs.
type Store struct {
	db *sql.DB
}

const dbFile = "mailrag.db"

var pragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
}

// Open opens or creates the database in dataDir and applies pending
// migrations. A dataDir of ":memory:" opens a private in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, dbFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database is per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrate(ctx, s.db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	applied, err := appliedVersions(context.Background(), s.db)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions, nil
}

// SaveInteraction records an answered question. Empty status and email ids
// default to "completed" and "[]".
func (s *Store) SaveInteraction(ctx context.Context, i Interaction) error {
	status := i.Status
	if status == "" {
		status = "completed"
	}
	emailIDs := i.EmailIDs
	if emailIDs == "" {
		emailIDs = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, created_at, question, answer, context, email_ids, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt.UTC().Format(time.RFC3339), i.Question, i.Answer, i.Context, emailIDs, status,
	)
	if err != nil {
		return fmt.Errorf("saving interaction %s: %w", i.ID, err)
	}
	return nil
}

// GetInteraction returns the interaction with id, or ErrNotFound.
func (s *Store) GetInteraction(ctx context.Context, id string) (Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, question, answer, context, email_ids, status
		FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetRecentInteractions returns up to limit interactions, newest first.
func (s *Store) GetRecentInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, question, answer, context, email_ids, status
		FROM interactions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(sc scanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	if err := sc.Scan(&i.ID, &createdAt, &i.Question, &i.Answer, &i.Context, &i.EmailIDs, &i.Status); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

// SaveRefreshRun records the outcome of one refresh.
func (s *Store) SaveRefreshRun(ctx context.Context, r RefreshRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_runs (id, started_at, finished_at, listed, added, indexed, generation, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.Listed, r.Added, r.Indexed, r.Generation, r.Error,
	)
	if err != nil {
		return fmt.Errorf("saving refresh run %s: %w", r.ID, err)
	}
	return nil
}

// LastRefreshRun returns the most recently started run, or ErrNotFound.
func (s *Store) LastRefreshRun(ctx context.Context) (RefreshRun, error) {
	var r RefreshRun
	var startedAt, finishedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, listed, added, indexed, generation, error
		FROM refresh_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&r.ID, &startedAt, &finishedAt, &r.Listed, &r.Added, &r.Indexed, &r.Generation, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return RefreshRun{}, ErrNotFound
	}
	if err != nil {
		return RefreshRun{}, err
	}
	if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return RefreshRun{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
		return RefreshRun{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	return r, nil
}
