package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists serialized component classes in a sqlite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if necessary) the artifact database at the
// given DSN.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		key TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		json BLOB NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_name ON artifacts(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a serialized artifact under its cache key.
func (s *Store) Save(key, id, name string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO artifacts (key, id, name, json, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET id = excluded.id, json = excluded.json,
		 created_at = excluded.created_at`,
		key, id, name, data, time.Now().UTC(),
	)
	return err
}

// Load returns the serialized artifact for the key, or nil when absent.
func (s *Store) Load(key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT json FROM artifacts WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteByName removes every stored artifact for the named component.
func (s *Store) DeleteByName(name string) error {
	_, err := s.db.Exec(`DELETE FROM artifacts WHERE name = ?`, name)
	return err
}

// Count returns the number of stored artifacts.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&n)
	return n, err
}
