package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ghafacts/internal/adapters/ingest/gharchive"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	"ghafacts/internal/services/rollup/domain"
)

// File outcome labels
const (
	StatusOK          = "ok"
	StatusFetchFailed = "fetch_failed"
	StatusReadFailed  = "read_failed"
)

// Projector maps one event to a record; false drops the event
type Projector[T any] func(domain.Event) (T, bool)

// Config tunes the pool
type Config struct {
	Workers    int // symmetric workers, each owns a contiguous partition; <=0 -> 1
	BatchFiles int // files fetched concurrently inside a worker; <=0 -> 1
}

// Pool runs the ingestion workers for one record type
type Pool[T any] struct {
	cfg     Config
	src     *Source
	era     domain.Era
	project Projector[T]
	compact func([]T) []T
	m       *metrics.Metrics

	mu    sync.Mutex
	stats []domain.FileStat
}

// NewPool builds a pool. compact may be nil; when set it is applied to each
// file's records before they are queued
func NewPool[T any](
	cfg Config,
	src *Source,
	era domain.Era,
	project Projector[T],
	compact func([]T) []T,
	m *metrics.Metrics,
) *Pool[T] {
	if m == nil {
		m = metrics.Nop()
	}
	return &Pool[T]{cfg: cfg, src: src, era: era, project: project, compact: compact, m: m}
}

// Run processes files and publishes one slice per file onto out, closing out
// once every worker has returned. Per-file failures are logged and counted,
// never returned; the only error is context cancellation.
func (p *Pool[T]) Run(ctx context.Context, files []string, out chan<- []T) error {
	defer close(out)

	g, gctx := errgroup.WithContext(ctx)
	for id, part := range Partition(files, p.cfg.Workers) {
		g.Go(func() error { return p.worker(gctx, id, part, out) })
	}
	return g.Wait()
}

// Stats returns a copy of the per-file outcomes collected so far
func (p *Pool[T]) Stats() []domain.FileStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.FileStat(nil), p.stats...)
}

func (p *Pool[T]) worker(ctx context.Context, id int, files []string, out chan<- []T) error {
	log := logger.C(ctx).With().Int("worker", id).Logger()
	log.Debug().Int("files", len(files)).Msg("ingest: worker start")

	for _, batch := range Batches(files, p.cfg.BatchFiles) {
		results := make([][]T, len(batch))

		// fan-out across the batch; file failures are absorbed in processFile
		var g errgroup.Group
		for i, key := range batch {
			g.Go(func() error {
				results[i] = p.processFile(ctx, key)
				return nil
			})
		}
		_ = g.Wait()

		// fan-in: blocks while the queue is full
		for _, recs := range results {
			if len(recs) == 0 {
				continue
			}
			select {
			case out <- recs:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	log.Debug().Msg("ingest: worker done")
	return nil
}

func (p *Pool[T]) processFile(ctx context.Context, key string) []T {
	start := time.Now()
	st := domain.FileStat{Key: key, Status: StatusOK}
	defer func() {
		st.FinishedAt = time.Now().UTC()
		p.record(st)
	}()

	rc, attempts, err := p.src.Open(ctx, key)
	st.Attempts = attempts
	st.FetchMS = int(time.Since(start).Milliseconds())
	if err != nil {
		st.Status = StatusFetchFailed
		logger.C(ctx).Error().Err(err).Str("key", key).Int("attempts", attempts).
			Msg("ingest: fetch failed, file contributes no events")
		return nil
	}

	t1 := time.Now()
	rd, err := gharchive.NewReader(rc, p.era, key, logger.C(ctx))
	if err != nil {
		st.Status = StatusReadFailed
		logger.C(ctx).Error().Err(err).Str("key", key).Msg("ingest: not a gzip stream")
		return nil
	}
	defer func() { _ = rd.Close() }()

	var recs []T
	for {
		ev, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// keep what decoded cleanly before the stream broke
			st.Status = StatusReadFailed
			logger.C(ctx).Error().Err(err).Str("key", key).Int("records", len(recs)).
				Msg("ingest: read aborted")
			break
		}
		if r, ok := p.project(ev); ok {
			recs = append(recs, r)
		}
	}
	st.ReadMS = int(time.Since(t1).Milliseconds())
	st.Events, st.Malformed, st.BytesUncompressed = rd.Stats()

	st.Records = len(recs)
	if p.compact != nil {
		recs = p.compact(recs)
	}

	p.m.EventsDecoded.Add(float64(st.Events))
	p.m.MalformedLines.Add(float64(st.Malformed))
	p.m.RecordsEmitted.Add(float64(st.Records))
	p.m.FetchSeconds.Observe(time.Since(start).Seconds())
	return recs
}

func (p *Pool[T]) record(st domain.FileStat) {
	result := "ok"
	if st.Status != StatusOK {
		result = "failed"
	}
	p.m.FilesProcessed.WithLabelValues(result).Inc()

	p.mu.Lock()
	p.stats = append(p.stats, st)
	p.mu.Unlock()
}

// Commits projects contribution events to committer facts
func Commits(ev domain.Event) (domain.CommitEvent, bool) {
	if !ev.IsContribution() {
		return domain.CommitEvent{}, false
	}
	return ev.CommitEvent()
}

// RepoNames projects every event to its repository name observation
func RepoNames(ev domain.Event) (domain.RepoIDToName, bool) {
	return ev.RepoName()
}
