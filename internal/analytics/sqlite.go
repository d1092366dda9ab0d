package analytics

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const snapshotKey = "analytics_state"

// SQLiteStore persists snapshots in a single-row key-value table. SQLite
// gives atomic replace semantics for the write-through without any file
// rename dance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	return err
}

// Save replaces the stored snapshot.
func (s *SQLiteStore) Save(snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, snapshotKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot if one exists.
func (s *SQLiteStore) Load() (Snapshot, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, snapshotKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap, err := DecodeSnapshot([]byte(value))
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Clear removes the stored snapshot.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, snapshotKey); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
