package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS app_record (
		app_id                       TEXT PRIMARY KEY,
		display_name                 TEXT NOT NULL DEFAULT '',
		daily_usage_ms               INTEGER NOT NULL DEFAULT 0,
		limit_enabled                INTEGER NOT NULL DEFAULT 0,
		session_state                TEXT NOT NULL DEFAULT 'IDLE'
			CHECK (session_state IN ('IDLE', 'ACTIVE', 'PAUSED', 'BLOCKED')),
		session_start_time           INTEGER NOT NULL DEFAULT 0,
		selected_session_duration_ms INTEGER NOT NULL DEFAULT 0,
		remaining_session_time_ms    INTEGER NOT NULL DEFAULT 0
			CHECK (remaining_session_time_ms >= 0),
		last_interact_time           INTEGER NOT NULL DEFAULT 0,
		last_paused_time             INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_state (
		id                  INTEGER PRIMARY KEY CHECK (id = 1),
		last_foreground_app TEXT NOT NULL DEFAULT '',
		presenting          INTEGER NOT NULL DEFAULT 0,
		presenting_app      TEXT NOT NULL DEFAULT '',
		presenting_kind     TEXT NOT NULL DEFAULT '',
		presenting_id       TEXT NOT NULL DEFAULT '',
		updated_at          INTEGER NOT NULL DEFAULT 0
	)`,
}

// Store implements the storage.Store interface on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at the given path.
// If path is ":memory:", uses an in-memory database.
// Sets WAL mode and runs migrations.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection would get its own in-memory database.
	if path == storage.MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 2000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apps returns the app record store.
func (s *Store) Apps() storage.AppStore { return &appStore{db: s.db} }

// Pipeline returns the pipeline state store.
func (s *Store) Pipeline() storage.PipelineStore { return &pipelineStore{db: s.db} }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
