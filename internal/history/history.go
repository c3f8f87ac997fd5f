// Package history persists finished transcriptions to a local SQLite
// database so the user can recover past dictations.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one stored transcription.
type Entry struct {
	ID        int64
	SessionID string
	Text      string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed transcript history.
type Store struct {
	db     *sql.DB
	errLog *log.Logger
	clock  func() time.Time
}

// DefaultPath is the standard history database location.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "stt", "history.db")
}

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string, errLog *log.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, errLog: errLog, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores one transcription.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, text, created_at) VALUES(?, ?, ?)`,
		e.SessionID, e.Text, e.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Recent returns up to n transcripts, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, created_at
		 FROM transcripts ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Text, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune keeps only the newest max transcripts.
func (s *Store) Prune(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcripts WHERE id IN (
		     SELECT id FROM transcripts ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		 )`, max)
	return err
}

// Deliver records a finished transcription. Storage failures are logged and
// swallowed so a disk problem never breaks dictation itself.
func (s *Store) Deliver(sessionID, text string) {
	if err := s.Append(context.Background(), Entry{SessionID: sessionID, Text: text}); err != nil {
		s.errLog.Printf("history append failed: %v", err)
	}
}
