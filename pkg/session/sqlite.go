package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the session map in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, path: path}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the underlying SQLite file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode = DELETE;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			peer_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init session db: %w", err)
		}
	}
	if err := os.Chmod(s.path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Load returns every stored mapping.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]string, error) {
	m := map[string]string{}
	rows, err := s.db.QueryContext(ctx, `SELECT peer_id, session_id FROM sessions`)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var peerID, sessionID string
		if err := rows.Scan(&peerID, &sessionID); err != nil {
			return map[string]string{}, err
		}
		m[peerID] = sessionID
	}
	if err := rows.Err(); err != nil {
		return map[string]string{}, err
	}
	return m, nil
}

// Save replaces the stored map in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, m map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		tx.Rollback()
		return err
	}
	now := time.Now().UnixMilli()
	for _, peerID := range sortedKeys(m) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions(peer_id, session_id, updated_at) VALUES(?,?,?)`,
			peerID, m[peerID], now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
