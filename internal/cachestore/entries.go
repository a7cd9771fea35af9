package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound reports a key with no stored response.
var ErrNotFound = errors.New("cache entry not found")

// Entry is a stored response snapshot.
type Entry struct {
	Generation string
	Key        Key
	Status     int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Put upserts entry into generation, creating the generation when needed.
// The last write for a key wins.
func (s *Store) Put(ctx context.Context, generation string, entry Entry) error {
	generation = strings.TrimSpace(generation)
	if generation == "" {
		return errors.New("put entry: generation required")
	}
	if entry.Key.URL == "" {
		return errors.New("put entry: key url required")
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if entry.Header == nil {
		header = []byte("{}")
	}
	now := s.now()
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = now
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)`,
			generation, now.UnixNano()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO entries (generation, method, url, status, header, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(generation, method, url) DO UPDATE SET
    status = excluded.status,
    header = excluded.header,
    body = excluded.body,
    stored_at = excluded.stored_at`,
			generation, entry.Key.Method, entry.Key.URL, entry.Status, string(header), entry.Body, storedAt.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", entry.Key, generation, err)
	}
	return nil
}

// Match returns the newest stored response for key across every generation.
func (s *Store) Match(ctx context.Context, key Key) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT generation, method, url, status, header, body, stored_at
FROM entries WHERE method = ? AND url = ?
ORDER BY stored_at DESC LIMIT 1`, key.Method, key.URL)
	return scanEntry(row, key)
}

// MatchIn returns the stored response for key within one generation.
func (s *Store) MatchIn(ctx context.Context, generation string, key Key) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT generation, method, url, status, header, body, stored_at
FROM entries WHERE generation = ? AND method = ? AND url = ?`, generation, key.Method, key.URL)
	return scanEntry(row, key)
}

// Count returns the number of entries in generation.
func (s *Store) Count(ctx context.Context, generation string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM entries WHERE generation = ?`, generation).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entries in %s: %w", generation, err)
	}
	return count, nil
}

func scanEntry(row *sql.Row, key Key) (*Entry, error) {
	var (
		entry    Entry
		header   string
		storedAt int64
	)
	err := row.Scan(&entry.Generation, &entry.Key.Method, &entry.Key.URL, &entry.Status, &header, &entry.Body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("match %s: %w", key, err)
	}
	entry.Header = http.Header{}
	if header != "" {
		if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
			return nil, fmt.Errorf("decode header for %s: %w", key, err)
		}
	}
	entry.StoredAt = time.Unix(0, storedAt)
	return &entry, nil
}
