package domain

import (
	"context"
	"io"
)

// RunnerPort is the public port exposed by the rollup module
type RunnerPort interface {
	Run(ctx context.Context, job Job) (RunReport, error)
}

// ListPage is one page of a paginated key listing
type ListPage struct {
	Keys      []string
	NextToken string // empty when no more pages
}

// PutOptions carries optional object metadata
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	ACL             string // canned ACL, e.g. bucket-owner-full-control
}

// ObjectStore is the object store collaborator
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix, startAfter string, maxKeys int, token string) (ListPage, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body []byte, opts PutOptions) error
	Delete(ctx context.Context, bucket, key string) error
}

// StoreFactory builds an object store client with its own connection pool
type StoreFactory interface {
	Fresh() (ObjectStore, error)
}

// LedgerRepo is the storage repository for run bookkeeping
type LedgerRepo interface {
	// StartRun records a run as running (idempotent on run id)
	StartRun(ctx context.Context, runID string, job Job) error

	// RecordChunk upserts one exported file's outcome
	RecordChunk(ctx context.Context, runID string, c Chunk) error

	// FinishRun stores the final counts and status
	FinishRun(ctx context.Context, runID string, rep RunReport, errText string) error
}

// FileStatsSink receives per-file ingest outcomes in batches
type FileStatsSink interface {
	WriteFileStats(ctx context.Context, runID string, stats []FileStat) error
}
