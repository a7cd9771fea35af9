package cachestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Generation summarizes one named partition of the cache.
type Generation struct {
	Name      string    `json:"name"`
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// EnsureGeneration creates generation if it does not exist.
func (s *Store) EnsureGeneration(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("ensure generation: name required")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)`,
			name, s.now().UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure generation %s: %w", name, err)
	}
	return nil
}

// Generations lists every generation, oldest first.
func (s *Store) Generations(ctx context.Context) ([]Generation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.name, g.created_at, COUNT(e.url), COALESCE(SUM(LENGTH(e.body)), 0)
FROM generations g
LEFT JOIN entries e ON e.generation = g.name
GROUP BY g.name, g.created_at
ORDER BY g.created_at, g.name`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var gens []Generation
	for rows.Next() {
		var (
			gen     Generation
			created int64
		)
		if err := rows.Scan(&gen.Name, &created, &gen.Entries, &gen.Bytes); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		gen.CreatedAt = time.Unix(0, created)
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

// DeleteGeneration removes generation and every entry it owns. It reports
// whether the generation existed.
func (s *Store) DeleteGeneration(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE generation = ?`, name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return deleted, nil
}
