// Package loader replays exported SQL chunks into postgres
package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"ghafacts/internal/modkit/repokit"
	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/sqlgen"
)

// sleep is a seam for tests
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config selects the chunks to load
type Config struct {
	Bucket string
	Prefix string
	Mode   domain.Mode
	Year   int

	// ApplySchema runs the embedded CREATE TABLE IF NOT EXISTS script first
	ApplySchema bool

	MaxRetries int           // attempts per file; <=0 -> 1
	RetryBase  time.Duration // <=0 -> 500ms

	// StatementTimeout is set LOCAL in every chunk transaction; <=0 keeps the server default
	StatementTimeout time.Duration
}

// Report summarizes one load
type Report struct {
	Files       int
	Loaded      int
	Failed      int
	Statements  int
	RowsTouched int64
}

// Loader reads chunks from the object store and executes them
type Loader struct {
	Store domain.ObjectStore
	DB    repokit.TxRunner
	Cfg   Config
	M     *metrics.Metrics

	chunkTx repokit.TxRunner
}

// New constructs a loader
func New(st domain.ObjectStore, db repokit.TxRunner, cfg Config, m *metrics.Metrics) *Loader {
	if st == nil || db == nil {
		panic("loader requires an object store and a TxRunner")
	}
	if m == nil {
		m = metrics.Nop()
	}
	chunkTx := db
	if cfg.StatementTimeout > 0 {
		ms := strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
		chunkTx = repokit.WithBeginHooks(db, repokit.SetLocal("statement_timeout", ms))
	}
	return &Loader{Store: st, DB: db, Cfg: cfg, M: m, chunkTx: chunkTx}
}

// Dir is the key prefix holding one mode and year's chunks
func Dir(prefix string, mode domain.Mode, year int) string {
	return path.Join(prefix, string(mode), fmt.Sprint(year)) + "/"
}

// Run loads every chunk under the configured directory in key order.
// A file that still fails after retries is logged and counted; the load goes on
func (l *Loader) Run(ctx context.Context) (Report, error) {
	log := logger.C(ctx).With().Str("mode", string(l.Cfg.Mode)).Int("year", l.Cfg.Year).Logger()
	var rep Report

	if l.Cfg.ApplySchema {
		if _, err := l.DB.Exec(ctx, sqlgen.Schema); err != nil {
			return rep, perr.FromPostgres(err, "loader: apply schema")
		}
	}

	keys, err := l.list(ctx)
	if err != nil {
		return rep, err
	}
	rep.Files = len(keys)
	log.Info().Int("files", len(keys)).Msg("loader: starting")

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, rows, err := l.loadWithRetry(ctx, key)
		if err != nil {
			rep.Failed++
			l.M.ChunksLoaded.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("key", key).Msg("loader: file failed")
			continue
		}
		rep.Loaded++
		rep.Statements += n
		rep.RowsTouched += rows
		l.M.ChunksLoaded.WithLabelValues("ok").Inc()
		log.Debug().Str("key", key).Int("statements", n).Int64("rows", rows).Msg("loader: file loaded")
	}

	log.Info().
		Int("loaded", rep.Loaded).
		Int("failed", rep.Failed).
		Int("statements", rep.Statements).
		Int64("rows", rep.RowsTouched).
		Msg("loader: done")
	return rep, nil
}

func (l *Loader) list(ctx context.Context) ([]string, error) {
	dir := Dir(l.Cfg.Prefix, l.Cfg.Mode, l.Cfg.Year)
	var keys []string
	token := ""
	for {
		page, err := l.Store.List(ctx, l.Cfg.Bucket, dir, "", 1000, token)
		if err != nil {
			return nil, perr.WithOp(err, "loader.list")
		}
		for _, k := range page.Keys {
			if strings.HasSuffix(k, ".sql.gz") {
				keys = append(keys, k)
			}
		}
		if page.NextToken == "" {
			return keys, nil
		}
		token = page.NextToken
	}
}

func (l *Loader) loadWithRetry(ctx context.Context, key string) (int, int64, error) {
	stmts, err := l.fetch(ctx, key)
	if err != nil {
		return 0, 0, err
	}

	attempts := max(l.Cfg.MaxRetries, 1)
	base := l.Cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var last error
	for i := range attempts {
		rows, err := l.apply(ctx, stmts)
		if err == nil {
			return len(stmts), rows, nil
		}
		last = err
		if !perr.Retryable(err) || i == attempts-1 {
			break
		}

		// exponential backoff with jitter, capped at 10s
		d := min(base<<i, 10*time.Second)
		j := d/2 + rand.N(d/2+1)
		logger.C(ctx).Warn().Err(err).Str("key", key).Int("attempt", i+1).Dur("backoff", j).Msg("loader: retrying file")
		if se := sleep(ctx, j); se != nil {
			return 0, 0, se
		}
	}
	return 0, 0, last
}

// apply executes stmts in one transaction
func (l *Loader) apply(ctx context.Context, stmts []string) (int64, error) {
	var rows int64
	err := repokit.WithTx(ctx, l.chunkTx, func(q repokit.Queryer) error {
		rows = 0
		for _, s := range stmts {
			tag, err := q.Exec(ctx, s)
			if err != nil {
				return perr.FromPostgres(err, "loader: exec")
			}
			if tag != nil {
				rows += tag.RowsAffected()
			}
		}
		return nil
	})
	return rows, err
}

func (l *Loader) fetch(ctx context.Context, key string) ([]string, error) {
	rc, err := l.Store.Get(ctx, l.Cfg.Bucket, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, perr.FromObjectStoref(err, "loader: read %s", key)
	}
	return Statements(body)
}

// Statements gunzips a chunk and returns its non-empty lines
func Statements(gz []byte) ([]string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "loader: not a gzip chunk")
	}
	defer func() { _ = zr.Close() }()

	var out []string
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			out = append(out, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "loader: corrupt chunk")
	}
	return out, nil
}
