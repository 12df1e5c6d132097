package store

import (
	"context"
	"errors"
)

// ErrNoRows is returned by Scalar when the query produced no row
var ErrNoRows = errors.New("store: no rows")

// ExecAffected runs sql and returns the affected row count
func ExecAffected(ctx context.Context, q RowQuerier, sql string, args ...any) (int64, error) {
	ct, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Scalar scans the first column of the first row into T
func Scalar[T any](ctx context.Context, q RowQuerier, sql string, args ...any) (T, error) {
	var out T
	rs, err := q.Query(ctx, sql, args...)
	if err != nil {
		return out, err
	}
	defer rs.Close()
	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return out, err
		}
		return out, ErrNoRows
	}
	if err := rs.Scan(&out); err != nil {
		return out, err
	}
	return out, rs.Err()
}

// Many scans every row with scan
func Many[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) ([]T, error) {
	rs, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []T
	for rs.Next() {
		v, err := scan(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rs.Err()
}
