package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const busyTimeout = 5 * time.Second

// SQLiteStore keeps registrations in an embedded SQLite database.
//
// The database runs in WAL mode so that `ascend serve` processes registering
// themselves and peers resolving paths do not block each other.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the registry database at path.
//
// The caller MUST call Close() when done.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)", path, busyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{conn: conn, path: path}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		notebook_path TEXT PRIMARY KEY,
		addr TEXT NOT NULL,
		registered_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Register inserts or replaces the entry for notebookPath.
func (s *SQLiteStore) Register(ctx context.Context, notebookPath, addr string) error {
	query := `
	INSERT INTO sessions (notebook_path, addr, registered_at)
	VALUES (?, ?, ?)
	ON CONFLICT(notebook_path) DO UPDATE SET
		addr = excluded.addr,
		registered_at = excluded.registered_at
	`
	_, err := s.conn.ExecContext(ctx, query, notebookPath, addr, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", notebookPath, err)
	}
	return nil
}

// Unregister removes the entry for notebookPath. Returns nil if it doesn't
// exist.
func (s *SQLiteStore) Unregister(ctx context.Context, notebookPath string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE notebook_path = ?`, notebookPath); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", notebookPath, err)
	}
	return nil
}

// List returns all registrations.
func (s *SQLiteStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT notebook_path, addr FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var path, addr string
		if err := rows.Scan(&path, &addr); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		entries[path] = addr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return entries, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}
