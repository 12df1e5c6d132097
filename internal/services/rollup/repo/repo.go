// Package repo provides postgres access for the rollup run ledger
package repo

import (
	"context"
	_ "embed"

	"ghafacts/internal/modkit/repokit"
	"ghafacts/internal/services/rollup/domain"
)

//go:embed schema.sql
var Schema string

type (
	// PG is a Postgres binder for domain.LedgerRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.LedgerRepo
func NewPG() repokit.Binder[domain.LedgerRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.LedgerRepo { return &queries{q: q} }

// EnsureSchema creates the ledger tables when missing
func EnsureSchema(ctx context.Context, q repokit.Queryer) error {
	_, err := q.Exec(ctx, Schema)
	return err
}

// StartRun marks a run as running (idempotent)
func (r *queries) StartRun(ctx context.Context, runID string, job domain.Job) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO rollup_runs (run_id, mode, year, hours, dry_run, obfuscate, dest_bucket, dest_prefix, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'running', now())
		ON CONFLICT (run_id) DO UPDATE
		SET started_at = now(), status = 'running', error = null, finished_at = null
	`, runID, string(job.Mode), job.Year, job.Hours, job.DryRun, job.Obfuscate, job.DestBucket, job.DestPrefix)
	return err
}

// RecordChunk upserts one exported file's outcome
func (r *queries) RecordChunk(ctx context.Context, runID string, c domain.Chunk) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO rollup_chunks (run_id, seq, part, object_key, statements, rows, bytes, attempts, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10,''))
		ON CONFLICT (run_id, seq, part) DO UPDATE SET
			object_key = EXCLUDED.object_key,
			statements = EXCLUDED.statements,
			rows = EXCLUDED.rows,
			bytes = EXCLUDED.bytes,
			attempts = EXCLUDED.attempts,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			recorded_at = now()
	`, runID, c.Seq, c.Part, c.Key, c.Statements, c.Rows, c.Bytes, c.Attempts, string(c.Status), c.ErrText)
	return err
}

// FinishRun stores the final counts. A non-empty errText marks the run failed
func (r *queries) FinishRun(ctx context.Context, runID string, rep domain.RunReport, errText string) error {
	status := "ok"
	switch {
	case errText != "":
		status = "error"
	case rep.ChunksFailed > 0:
		status = "partial"
	}
	_, err := r.q.Exec(ctx, `
		UPDATE rollup_runs SET
			finished_at = now(),
			status = $2,
			files = $3,
			files_failed = $4,
			events = $5,
			malformed = $6,
			records = $7,
			uniq = $8,
			flushes = $9,
			chunks = $10,
			chunks_failed = $11,
			statements = $12,
			elapsed_ms = $13,
			error = NULLIF($14,'')
		WHERE run_id = $1
	`,
		runID, status, rep.Files, rep.FilesFailed, rep.Events, rep.Malformed, rep.Records, rep.Unique,
		rep.Flushes, rep.Chunks, rep.ChunksFailed, rep.Statements, rep.Elapsed.Milliseconds(), errText,
	)
	return err
}
