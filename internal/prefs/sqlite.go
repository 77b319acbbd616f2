package prefs

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS prefs (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLiteStore persists preferences in a single-table SQLite database under
// the agent's data directory.
type SQLiteStore struct {
	lock sync.RWMutex
	db   *sql.DB
}

func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, "prefs.db"))
	if err != nil {
		return nil, err
	}
	if err := migrate(db, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// migrate runs the schema statements in one transaction.
func migrate(db *sql.DB, stmts []string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(key string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	row := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

func (s *SQLiteStore) Set(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO prefs (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, value)
	return err
}

func (s *SQLiteStore) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.db.Exec(`DELETE FROM prefs WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
