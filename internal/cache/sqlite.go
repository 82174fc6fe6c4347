package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	generation TEXT NOT NULL,
	key        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	headers    TEXT NOT NULL,
	body       BLOB,
	PRIMARY KEY (generation, key)
);
`

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the on-disk store. This is the backend that
// keeps cached generations across process restarts.
func NewSQLite(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("cache: sqlite path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite open: %w", err)
	}
	// modernc sqlite serializes writes through a single connection; more
	// connections only produce SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: sqlite schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, generation, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, headers, body FROM entries WHERE generation = ? AND key = ?`, generation, key)
	var entry Entry
	var headers string
	if err := row.Scan(&entry.Status, &headers, &entry.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: sqlite get: %w", err)
	}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &entry.Headers); err != nil {
			return Entry{}, false, fmt.Errorf("cache: sqlite headers decode: %w", err)
		}
	}
	return entry, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, generation, key string, entry Entry) error {
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("cache: sqlite headers encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (generation, key, status, headers, body) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (generation, key) DO UPDATE SET status = excluded.status, headers = excluded.headers, body = excluded.body`,
		generation, key, entry.Status, string(headers), entry.Body)
	if err != nil {
		return fmt.Errorf("cache: sqlite put: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, generation, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE generation = ? AND key = ?`, generation, key); err != nil {
		return fmt.Errorf("cache: sqlite delete: %w", err)
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context, generation string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM entries WHERE generation = ?`, generation)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("cache: sqlite keys scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: sqlite keys rows: %w", err)
	}
	return keys, nil
}

func (s *sqliteStore) ListGenerations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT generation FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite generations: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("cache: sqlite generations scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: sqlite generations rows: %w", err)
	}
	return names, nil
}

func (s *sqliteStore) DeleteGeneration(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE generation = ?`, name); err != nil {
		return fmt.Errorf("cache: sqlite delete generation: %w", err)
	}
	return nil
}

func (s *sqliteStore) BytesUsed(ctx context.Context, generation string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(body)), 0) FROM entries WHERE generation = ?`, generation)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("cache: sqlite bytes used: %w", err)
	}
	return total, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return s.db.Close()
}
