// Package service provides the rollup service implementation
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ghafacts/internal/modkit/repokit"
	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	"ghafacts/internal/services/rollup/aggregate"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/export"
	"ghafacts/internal/services/rollup/guardrails"
	"ghafacts/internal/services/rollup/ingest"
	"ghafacts/internal/services/rollup/sqlgen"
)

// Config holds configuration options for the rollup service
type Config struct {
	Ingest     ingest.Config
	QueueDepth int // bounded queue capacity in files; <=0 -> 1

	Aggregate aggregate.Config

	// SQL shaping
	RepoBatch         int // rows per repo-mapping INSERT
	CommitBatch       int // rows per committer INSERT
	StatementsPerFile int // statements per exported object

	// Retry pacing
	FetchRetryDelay time.Duration
	UploadDelays    []time.Duration
	FreshClientFrom int

	Timeouts guardrails.Timeouts
}

// Service implements domain.RunnerPort
type Service struct {
	Store   domain.ObjectStore
	Factory domain.StoreFactory
	Cfg     Config
	M       *metrics.Metrics

	// Optional run ledger; both must be set to record runs
	DB     repokit.TxRunner
	Ledger repokit.Binder[domain.LedgerRepo]

	// Optional per-file stats sink
	Stats domain.FileStatsSink

	// Lease serializes runs for the same (mode, year)
	Lease guardrails.LeaseFunc

	newRunID func() string
}

var _ domain.RunnerPort = (*Service)(nil)

// New constructs the rollup service
func New(st domain.ObjectStore, factory domain.StoreFactory, cfg Config, m *metrics.Metrics) *Service {
	if st == nil {
		panic("rollup.Service requires a non nil ObjectStore")
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Service{
		Store:    st,
		Factory:  factory,
		Cfg:      cfg,
		M:        m,
		Lease:    guardrails.NoLease,
		newRunID: uuid.NewString,
	}
}

// WithLedger wires the postgres run ledger
func (s *Service) WithLedger(db repokit.TxRunner, b repokit.Binder[domain.LedgerRepo]) *Service {
	s.DB, s.Ledger = db, b
	return s
}

// WithStats wires the per-file stats sink
func (s *Service) WithStats(sink domain.FileStatsSink) *Service {
	s.Stats = sink
	return s
}

// WithLease replaces the run lease
func (s *Service) WithLease(l guardrails.LeaseFunc) *Service {
	if l != nil {
		s.Lease = l
	}
	return s
}

// Run executes one rollup: list, probe, ingest, aggregate, render and export.
// Skipped files and failed chunks are reported, not returned.
func (s *Service) Run(ctx context.Context, job domain.Job) (domain.RunReport, error) {
	start := time.Now()
	runID := s.newRunID()
	ctx = logger.WithRun(ctx, runID, string(job.Mode))
	log := logger.C(ctx)
	rep := domain.RunReport{RunID: runID}

	if err := validateJob(job); err != nil {
		return rep, err
	}

	files, err := ingest.ListFiles(ctx, s.Store, job.SourceBucket, job.Year, job.Hours)
	if err != nil {
		return rep, perr.WithOp(err, "rollup.list")
	}
	if len(files) < job.Hours {
		log.Warn().Int("found", len(files)).Int("wanted", job.Hours).Msg("rollup: fewer archive files than requested")
	}
	log.Info().
		Int("files", len(files)).
		Int("year", job.Year).
		Str("era", job.Era().String()).
		Bool("dry_run", job.DryRun).
		Msg("rollup: starting")

	exp := export.New(export.Config{
		Bucket:    job.DestBucket,
		Prefix:    job.DestPrefix,
		ACL:       job.DestACL,
		Delays:    s.Cfg.UploadDelays,
		FreshFrom: s.Cfg.FreshClientFrom,
		DryRun:    job.DryRun,
	}, s.Store, s.Factory, s.M)
	if err := exp.Probe(ctx, runID); err != nil {
		return rep, err
	}

	leaseKey := fmt.Sprintf("%s/%d", job.Mode, job.Year)
	err = s.Lease(ctx, leaseKey, runID, func(ctx context.Context) error {
		s.startRun(ctx, runID, job)
		var runErr error
		rep, runErr = s.execute(ctx, job, files, exp)
		rep.RunID = runID
		rep.Elapsed = time.Since(start)
		errText := ""
		if runErr != nil {
			errText = runErr.Error()
		}
		s.finishRun(ctx, runID, rep, errText)
		return runErr
	})
	rep.Elapsed = time.Since(start)
	if err != nil {
		log.Error().Err(err).Msg("rollup: run failed")
		return rep, err
	}

	ev := log.Info()
	if rep.ChunksFailed > 0 {
		ev = log.Error()
	}
	ev.
		Int("files", rep.Files).
		Int("files_failed", rep.FilesFailed).
		Int("events", rep.Events).
		Int("malformed", rep.Malformed).
		Int("records", rep.Records).
		Int("unique", rep.Unique).
		Int("flushes", rep.Flushes).
		Int("chunks", rep.Chunks).
		Int("chunks_failed", rep.ChunksFailed).
		Dur("elapsed", rep.Elapsed).
		Msg("rollup: done")
	return rep, nil
}

func (s *Service) execute(ctx context.Context, job domain.Job, files []string, exp *export.Exporter) (domain.RunReport, error) {
	r := &chunkRecorder{s: s, runID: logger.RunID(ctx)}
	src := &ingest.Source{
		Store:      s.Store,
		Bucket:     job.SourceBucket,
		RetryDelay: s.Cfg.FetchRetryDelay,
		Timeouts:   s.Cfg.Timeouts,
	}

	var (
		st    aggregate.Stats
		stats []domain.FileStat
		err   error
	)
	switch job.Mode {
	case domain.ModeCommitters:
		width := s.Cfg.CommitBatch
		st, stats, err = pipeline(ctx, s, job, src, files, ingest.Commits, aggregate.Commits,
			func(recs []domain.CommitEvent) []string { return sqlgen.Committers(recs, width, job.Obfuscate) },
			width, exp, r)
	case domain.ModeRepoMapping:
		width := s.Cfg.RepoBatch
		st, stats, err = pipeline(ctx, s, job, src, files, ingest.RepoNames, aggregate.RepoNames,
			func(recs []domain.RepoIDToName) []string { return sqlgen.Repos(recs, width) },
			width, exp, r)
	default:
		err = perr.InvalidArgf("rollup: unknown mode %q", job.Mode)
	}

	s.writeStats(ctx, stats)

	rep := r.report()
	rep.Files = len(files)
	for _, f := range stats {
		if f.Status != ingest.StatusOK {
			rep.FilesFailed++
		}
		rep.Events += f.Events
		rep.Malformed += f.Malformed
		rep.Records += f.Records
	}
	rep.Unique = st.Unique
	rep.Flushes = st.Flushes
	return rep, err
}

// pipeline runs the worker pool into the engine and exports every flushed window
func pipeline[T any](
	ctx context.Context,
	s *Service,
	job domain.Job,
	src *ingest.Source,
	files []string,
	project ingest.Projector[T],
	policy aggregate.Policy[T],
	render func([]T) []string,
	width int,
	exp *export.Exporter,
	r *chunkRecorder,
) (aggregate.Stats, []domain.FileStat, error) {
	eng, err := aggregate.New(s.Cfg.Aggregate, policy, s.M)
	if err != nil {
		return aggregate.Stats{}, nil, err
	}
	pool := ingest.NewPool(s.Cfg.Ingest, src, job.Era(), project,
		func(recs []T) []T { return aggregate.Compact(recs, policy) }, s.M)

	perFile := max(s.Cfg.StatementsPerFile, 1)
	flush := func(ctx context.Context, seq int, recs []T) error {
		stmts := render(recs)
		s.M.Statements.Add(float64(len(stmts)))
		for part, payload := range sqlgen.Split(stmts, perFile) {
			c := exp.Export(ctx, job, seq, part, payload)
			c.Statements = min(perFile, len(stmts)-part*perFile)
			c.Rows = partRows(len(recs), width, perFile, part)
			r.add(ctx, c)
		}
		return nil
	}

	queue := make(chan []T, max(s.Cfg.QueueDepth, 1))
	var st aggregate.Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx, files, queue) })
	g.Go(func() error {
		var err error
		st, err = eng.Run(gctx, queue, flush)
		return err
	})
	err = g.Wait()
	return st, pool.Stats(), err
}

// partRows is the number of records rendered into one exported part. Windows are
// deduplicated so every statement but the last carries exactly width rows
func partRows(n, width, perFile, part int) int {
	width = max(width, 1)
	from := part * perFile * width
	to := min(from+perFile*width, n)
	return max(to-from, 0)
}

func validateJob(job domain.Job) error {
	switch {
	case job.Mode != domain.ModeCommitters && job.Mode != domain.ModeRepoMapping:
		return perr.InvalidArgf("rollup: unknown mode %q", job.Mode)
	case job.Hours <= 0:
		return perr.InvalidArgf("rollup: hours must be positive, got %d", job.Hours)
	case job.SourceBucket == "" || job.DestBucket == "":
		return perr.InvalidArgf("rollup: source and destination buckets are required")
	}
	return nil
}

// chunkRecorder counts chunk outcomes and forwards them to the ledger
type chunkRecorder struct {
	s     *Service
	runID string

	mu  sync.Mutex
	rep domain.RunReport
}

func (r *chunkRecorder) add(ctx context.Context, c domain.Chunk) {
	r.mu.Lock()
	r.rep.Chunks++
	r.rep.Statements += c.Statements
	if c.Status == domain.ChunkFailed {
		r.rep.ChunksFailed++
	}
	r.mu.Unlock()
	r.s.recordChunk(ctx, r.runID, c)
}

func (r *chunkRecorder) report() domain.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rep
}
