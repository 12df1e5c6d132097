package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestExecAffected(t *testing.T) {
	t.Parallel()

	q := traced{q: &pgxFakeQuerier{execFn: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 4"), nil
	}}}
	n, err := ExecAffected(context.Background(), q, "update rollup_chunks set status = $1", "uploaded")
	if err != nil || n != 4 {
		t.Fatalf("ExecAffected = %d, %v", n, err)
	}
}

func TestScalar(t *testing.T) {
	t.Parallel()

	q := traced{q: &pgxFakeQuerier{queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
		return newPgxFakeRows([]string{"count"}, [][]any{{int64(12)}}), nil
	}}}
	n, err := Scalar[int64](context.Background(), q, "select count(*) from rollup_chunks")
	if err != nil || n != 12 {
		t.Fatalf("Scalar = %d, %v", n, err)
	}

	empty := traced{q: &pgxFakeQuerier{queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
		return newPgxFakeRows([]string{"count"}, nil), nil
	}}}
	if _, err := Scalar[int64](context.Background(), empty, "select 1 where false"); !errors.Is(err, ErrNoRows) {
		t.Fatalf("Scalar empty err = %v", err)
	}
}

func TestMany(t *testing.T) {
	t.Parallel()

	q := traced{q: &pgxFakeQuerier{queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
		return newPgxFakeRows([]string{"object_key"}, [][]any{{"a.sql.gz"}, {"b.sql.gz"}}), nil
	}}}
	keys, err := Many(context.Background(), q, func(r Row) (string, error) {
		var s string
		return s, r.Scan(&s)
	}, "select object_key from rollup_chunks")
	if err != nil {
		t.Fatalf("Many: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a.sql.gz" || keys[1] != "b.sql.gz" {
		t.Fatalf("keys = %v", keys)
	}
}
