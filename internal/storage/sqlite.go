package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"glata-widget/pkg/logger"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists blobs in a single local database file. The pure
// Go driver keeps the widget free of cgo.
type SQLiteStore struct {
	dataDir string
	db      *sql.DB
}

func NewSQLiteStore(dataDir string) *SQLiteStore {
	return &SQLiteStore{dataDir: dataDir}
}

func (s *SQLiteStore) Init() error {
	path := filepath.Join(s.dataDir, "widget.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	session_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, key)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	s.db = db
	logger.WithComponent("storage").Infof("sqlite store initialized at %s", path)
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Put(sessionID, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO blobs (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(sessionID, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM blobs WHERE session_id = ? AND key = ?`,
		sessionID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) Delete(sessionID, key string) error {
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE session_id = ? AND key = ?`, sessionID, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteScope(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite delete scope: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Scopes() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT session_id FROM blobs`)
	if err != nil {
		return nil, fmt.Errorf("sqlite scopes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite scopes: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
