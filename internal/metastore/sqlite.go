package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/taskq/pkg/models"
)

// SQLiteStore is a Store backed by a single SQLite table. Compare-and-swap
// is done in SQL, so concurrent processes sharing the file stay consistent.
type SQLiteStore struct {
	conn *sql.DB
	path string

	mu       sync.Mutex
	migrated bool
}

// OpenSQLite opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// The documents table is created lazily by the first Put.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases and transactions coherent.
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations. It is idempotent and safe
// to run from several processes at once.
func (s *SQLiteStore) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated {
		return nil
	}

	// Create schema version table
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Documents},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	s.migrated = true
	return nil
}

const migrationV1Documents = `
CREATE TABLE IF NOT EXISTS documents (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	version TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// hasDocumentsTable reports whether the namespace has been created yet.
func (s *SQLiteStore) hasDocumentsTable(ctx context.Context) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'documents'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	return n > 0, nil
}

// Get returns the document at key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	ok, err := s.hasDocumentsTable(ctx)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, notFound(key)
	}
	return s.get(ctx, key)
}

func (s *SQLiteStore) get(ctx context.Context, key string) (Record, error) {
	var rec Record
	err := s.conn.QueryRowContext(ctx, "SELECT data, version FROM documents WHERE key = ?", key).
		Scan(&rec.Data, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}
	return rec, nil
}

// Put writes data if expectedVersion matches the stored version.
func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if err := s.Migrate(); err != nil {
		return "", err
	}
	if data == nil {
		data = []byte{}
	}

	version := ContentVersion(data)
	now := time.Now().UTC().Format(time.RFC3339)

	var res sql.Result
	var err error
	if expectedVersion == "" {
		res, err = s.conn.ExecContext(ctx, `
			INSERT INTO documents (key, data, version, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, data, version, now)
	} else {
		res, err = s.conn.ExecContext(ctx, `
			UPDATE documents SET data = ?, version = ?, updated_at = ?
			WHERE key = ? AND version = ?
		`, data, version, now, key, expectedVersion)
	}
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		actual := ""
		if rec, gerr := s.get(ctx, key); gerr == nil {
			actual = rec.Version
		}
		// The row may have changed back between the write and the re-read;
		// the write still lost.
		return "", &models.ConflictError{Key: key, Expected: expectedVersion, Actual: actual}
	}
	return version, nil
}

// List returns the keys starting with prefix, sorted.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	ok, err := s.hasDocumentsTable(ctx)
	if err != nil || !ok {
		return keys, err
	}

	query, args := "SELECT key FROM documents ORDER BY key", []any{}
	if prefix != "" {
		query, args = "SELECT key FROM documents WHERE instr(key, ?) = 1 ORDER BY key", []any{prefix}
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
