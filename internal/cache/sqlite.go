package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"inferd/internal/common/fsutil"
)

// SQLiteStore persists asset blobs in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the cache database at path and
// applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, ErrCache("open", "", err)
	}
	if _, err := fsutil.EnsureDir(filepath.Dir(p)); err != nil {
		return nil, ErrCache("open", "", err)
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, ErrCache("open", "", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, ErrCache("open", "", fmt.Errorf("apply pragma %q: %w", pragma, execErr))
		}
	}
	s := &SQLiteStore{db: db, path: p}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS assets (
            id          TEXT PRIMARY KEY,
            size_bytes  INTEGER NOT NULL,
            data        BLOB NOT NULL,
            created_at  TEXT NOT NULL,
            last_access TEXT NOT NULL
        )`)
	if err != nil {
		return ErrCache("migrate", "", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM assets WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ErrCache("get", id, err)
	}
	// Touch last_access; a failure here is not worth surfacing.
	_, _ = s.db.ExecContext(ctx, `UPDATE assets SET last_access = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return data, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, id string, data []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO assets (id, size_bytes, data, created_at, last_access)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            size_bytes = excluded.size_bytes,
            data = excluded.data,
            last_access = excluded.last_access`,
		id, int64(len(data)), data, now, now)
	if err != nil {
		return ErrCache("put", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id); err != nil {
		return ErrCache("delete", id, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return ErrCache("clear", "", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM assets ORDER BY id`)
	if err != nil {
		return nil, ErrCache("keys", "", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ErrCache("keys", "", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrCache("keys", "", err)
	}
	return ids, nil
}
