// Package aggregate is the bounded-memory accumulate / compact / flush engine.
//
// The engine is the single consumer of the ingest queue. It appends records,
// compacts in place (sort + adjacent dedup) every time the buffer crosses a
// multiple of CompactEvery, and forces a flush when the buffer reaches Ceiling.
// Compaction stops once a pass removes fewer than ConvergeDelta records and
// resumes after the next flush.
package aggregate

import (
	"context"
	"slices"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	"ghafacts/internal/services/rollup/domain"

	"ghafacts/internal/adapters/ingest/gharchive"
)

// Policy defines ordering and duplicate detection for one record type.
// After sorting with Compare, the first record of every run of Same records is kept
type Policy[T any] struct {
	Compare func(a, b T) int
	Same    func(a, b T) bool
}

// Commits dedups on full equality
var Commits = Policy[domain.CommitEvent]{
	Compare: gharchive.CompareCommits,
	Same:    func(a, b domain.CommitEvent) bool { return a == b },
}

// RepoNames keeps the newest observation per repository id
var RepoNames = Policy[domain.RepoIDToName]{
	Compare: gharchive.CompareRepoNames,
	Same:    func(a, b domain.RepoIDToName) bool { return a.RepoID == b.RepoID },
}

// Compact sorts s in place and drops duplicates, returning the shortened slice
func Compact[T any](s []T, p Policy[T]) []T {
	slices.SortFunc(s, p.Compare)
	return slices.CompactFunc(s, p.Same)
}

// Config holds the thresholds
type Config struct {
	CompactEvery  int // compaction modulus
	Ceiling       int // forced flush size; must be >= 1
	ConvergeDelta int // a pass removing fewer than this many records stops periodic compaction
}

// Validate reports unusable thresholds
func (c Config) Validate() error {
	if c.CompactEvery <= 0 {
		return perr.InvalidArgf("aggregate: compact-every must be positive, got %d", c.CompactEvery)
	}
	if c.Ceiling <= 0 {
		return perr.InvalidArgf("aggregate: ceiling must be positive, got %d", c.Ceiling)
	}
	if c.ConvergeDelta < 0 {
		return perr.InvalidArgf("aggregate: converge delta must not be negative, got %d", c.ConvergeDelta)
	}
	return nil
}

// FlushFunc receives one sorted, deduplicated window. seq counts flushes from 0.
// records is reused after return and must not be retained
type FlushFunc[T any] func(ctx context.Context, seq int, records []T) error

// Stats summarizes one engine run
type Stats struct {
	Received    int // records read from the queue
	Compactions int
	Removed     int // records dropped by periodic compaction
	Flushes     int
	Forced      int // flushes triggered by the ceiling
	Unique      int // records handed to FlushFunc, summed
	MaxBuffered int
}

// Engine is the aggregation state machine
type Engine[T any] struct {
	cfg    Config
	policy Policy[T]
	m      *metrics.Metrics

	buf         []T
	nextCompact int
	converged   bool
	stats       Stats
}

// New builds an engine
func New[T any](cfg Config, policy Policy[T], m *metrics.Metrics) (*Engine[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Engine[T]{cfg: cfg, policy: policy, m: m, nextCompact: cfg.CompactEvery}, nil
}

// Run drains in until it is closed, then performs the final flush.
// A cancelled context aborts without the final flush.
func (e *Engine[T]) Run(ctx context.Context, in <-chan []T, flush FlushFunc[T]) (Stats, error) {
	for {
		var (
			recs []T
			ok   bool
		)
		select {
		case recs, ok = <-in:
		case <-ctx.Done():
			return e.stats, ctx.Err()
		}
		if !ok {
			break
		}
		for _, r := range recs {
			if err := e.add(ctx, r, flush); err != nil {
				return e.stats, err
			}
		}
		e.m.RecordsBuffered.Set(float64(len(e.buf)))
	}

	if err := ctx.Err(); err != nil {
		return e.stats, err
	}
	if len(e.buf) > 0 {
		if err := e.flush(ctx, flush, false); err != nil {
			return e.stats, err
		}
	}
	return e.stats, nil
}

func (e *Engine[T]) add(ctx context.Context, r T, flush FlushFunc[T]) error {
	e.buf = append(e.buf, r)
	e.stats.Received++
	e.stats.MaxBuffered = max(e.stats.MaxBuffered, len(e.buf))

	if !e.converged && len(e.buf) >= e.nextCompact {
		e.compact(ctx)
	}
	if len(e.buf) >= e.cfg.Ceiling {
		return e.flush(ctx, flush, true)
	}
	return nil
}

func (e *Engine[T]) compact(ctx context.Context) {
	before := len(e.buf)
	e.buf = Compact(e.buf, e.policy)
	removed := before - len(e.buf)

	e.stats.Compactions++
	e.stats.Removed += removed
	e.m.Compactions.Inc()
	e.m.RecordsRemoved.Add(float64(removed))

	e.nextCompact = (len(e.buf)/e.cfg.CompactEvery + 1) * e.cfg.CompactEvery
	if removed < e.cfg.ConvergeDelta {
		e.converged = true
	}
	logger.C(ctx).Info().
		Int("before", before).
		Int("after", len(e.buf)).
		Bool("converged", e.converged).
		Msg("aggregate: compacted")
}

func (e *Engine[T]) flush(ctx context.Context, fn FlushFunc[T], forced bool) error {
	e.buf = Compact(e.buf, e.policy)
	seq := e.stats.Flushes
	e.stats.Flushes++
	e.stats.Unique += len(e.buf)
	if forced {
		e.stats.Forced++
	}
	logger.C(ctx).Info().
		Int("seq", seq).
		Int("records", len(e.buf)).
		Bool("forced", forced).
		Msg("aggregate: flushing")

	if err := fn(ctx, seq, e.buf); err != nil {
		return perr.WithOp(err, "aggregate.flush")
	}

	clear(e.buf)
	e.buf = e.buf[:0]
	e.converged = false
	e.nextCompact = e.cfg.CompactEvery
	e.m.RecordsBuffered.Set(0)
	return nil
}
