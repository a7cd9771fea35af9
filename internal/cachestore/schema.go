package cachestore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// cacheLayout is stored in PRAGMA user_version. Bump it when schema.sql changes.
const cacheLayout = 1

// ErrSchemaMismatch reports a cache database written with a different layout.
var ErrSchemaMismatch = errors.New("cache layout mismatch")

// migrate creates the tables on a fresh database and refuses one written by
// another layout. A fresh sqlite file reports user_version 0.
func (s *Store) migrate(ctx context.Context) error {
	var layout int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&layout); err != nil {
		return fmt.Errorf("read cache layout: %w", err)
	}
	switch layout {
	case cacheLayout:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: %s has layout %d, folio expects %d; remove the file to rebuild",
			ErrSchemaMismatch, s.path, layout, cacheLayout)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply cache schema: %w", err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", cacheLayout)); err != nil {
		return fmt.Errorf("stamp cache layout: %w", err)
	}
	return tx.Commit()
}
