package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ScopedReplace describes a set of rows owned by one parent key.
type ScopedReplace struct {
	Table       string   // target table
	ScopeColumn string   // column holding the parent key
	ScopeValue  any      // parent key value
	Columns     []string // columns written by COPY, in row order
}

// ReplaceScoped swaps every row under the scope for rows in one transaction:
// DELETE the existing rows, then COPY the new ones. Readers never see a
// partially written set.
func ReplaceScoped(ctx context.Context, pool Pool, cfg ScopedReplace, rows [][]any) (int64, error) {
	if cfg.Table == "" || cfg.ScopeColumn == "" {
		return 0, eris.New("db: replace: table and scope column are required")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			return 0, eris.Errorf("db: replace: row %d has %d values, want %d", i, len(row), len(cfg.Columns))
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{cfg.Table}.Sanitize(),
		pgx.Identifier{cfg.ScopeColumn}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, del, cfg.ScopeValue); err != nil {
		return 0, eris.Wrapf(err, "db: replace: clear %s", cfg.Table)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, pgx.Identifier{cfg.Table}, cfg.Columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", cfg.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}
