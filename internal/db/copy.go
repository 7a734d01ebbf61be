// Package db provides shared Postgres helpers for bulk copy, upsert and replace.
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the PostgreSQL COPY protocol.
func CopyFrom(ctx context.Context, e Execer, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := e.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// ReplaceScoped swaps the rows of table whose scopeCol equals scope for rows. Run it
// inside a transaction so readers never see the table half replaced.
func ReplaceScoped(ctx context.Context, e Execer, table, scopeCol string, scope any, columns []string, rows [][]any) (int64, error) {
	del := "DELETE FROM " + sanitizeTable(table) + " WHERE " + pgx.Identifier{scopeCol}.Sanitize() + " = $1"
	if _, err := e.Exec(ctx, del, scope); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", table)
	}
	return CopyFrom(ctx, e, table, columns, rows)
}

// identifier splits a possibly schema-qualified table name.
func identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}
