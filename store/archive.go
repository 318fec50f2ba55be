// Package store archives finished disclosure proofs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

// ErrNotFound is returned by Load for an unknown session
var ErrNotFound = errors.New("proof not found")

// ErrDuplicate is returned by Save when the session is already archived
var ErrDuplicate = errors.New("proof already archived")

const opTimeout = 5 * time.Second

// Entry describes one archived proof
type Entry struct {
	SessionID  string
	ServerName string
	CreatedAt  time.Time
	Size       int
}

// Archive is a SQLite-backed proof archive
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// OpenArchive opens or creates the archive at dsn and ensures the schema
func OpenArchive(dsn string) (*Archive, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS proofs (
  idx         INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id  TEXT    NOT NULL UNIQUE,
  server_name TEXT    NOT NULL,
  created_at  INTEGER NOT NULL,   -- unix seconds
  proof       BLOB    NOT NULL    -- pretty JSON as produced by the pipeline
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db, now: time.Now}, nil
}

// Save stores proofJSON under sessionID
func (a *Archive) Save(ctx context.Context, sessionID, serverName string, proofJSON []byte) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := a.db.ExecContext(ctx,
		`INSERT INTO proofs(session_id, server_name, created_at, proof) VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, serverName, a.now().Unix(), proofJSON)
	if err != nil {
		return fmt.Errorf("failed to save proof %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, sessionID)
	}
	return nil
}

// Load returns the proof archived under sessionID
func (a *Archive) Load(ctx context.Context, sessionID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var proofJSON []byte
	err := a.db.QueryRowContext(ctx, `SELECT proof FROM proofs WHERE session_id = ?`, sessionID).Scan(&proofJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load proof %s: %w", sessionID, err)
	}
	return proofJSON, nil
}

// List returns all archived proofs, oldest first
func (a *Archive) List(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := a.db.QueryContext(ctx,
		`SELECT session_id, server_name, created_at, length(proof) FROM proofs ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.SessionID, &e.ServerName, &created, &e.Size); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database
func (a *Archive) Close() error {
	return a.db.Close()
}
