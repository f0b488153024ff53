package storage

import (
	"context"
	"database/sql"
	"errors"
)

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanFunc decodes the current row into a typed record.
type ScanFunc[T any] func(RowScanner) (T, error)

// QueryAll runs a read query and decodes every row with scan. A query that
// matches nothing yields an empty, non-nil slice.
func QueryAll[T any](ctx context.Context, s *Store, scan ScanFunc[T], query string, args ...any) ([]T, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, s.fail("query: scan row", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query: iterate", err)
	}
	return out, nil
}

// QueryOne returns the first row decoded with scan, or ErrNotFound when the
// query matches nothing.
func QueryOne[T any](ctx context.Context, s *Store, scan ScanFunc[T], query string, args ...any) (T, error) {
	var zero T

	db, err := s.conn()
	if err != nil {
		return zero, err
	}

	item, err := scan(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, s.fail("query one", err)
	}
	return item, nil
}
