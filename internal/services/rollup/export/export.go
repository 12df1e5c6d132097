// Package export compresses SQL payloads and uploads them with bounded retries
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	"ghafacts/internal/services/rollup/domain"
)

// DefaultDelays is the wait before each attempt: two immediate tries, then 5s and 15s
var DefaultDelays = []time.Duration{0, 0, 5 * time.Second, 15 * time.Second}

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

// Config controls uploads
type Config struct {
	Bucket string
	Prefix string
	ACL    string
	// Delays has one entry per attempt; its length is the attempt budget
	Delays []time.Duration
	// FreshFrom is the 1-based attempt from which a new client is built per attempt; 0 disables
	FreshFrom int
	DryRun    bool
}

// Exporter uploads compressed chunks
type Exporter struct {
	cfg     Config
	store   domain.ObjectStore
	factory domain.StoreFactory
	m       *metrics.Metrics
}

// New builds an exporter. factory may be nil, in which case every attempt reuses store
func New(cfg Config, store domain.ObjectStore, factory domain.StoreFactory, m *metrics.Metrics) *Exporter {
	if len(cfg.Delays) == 0 {
		cfg.Delays = DefaultDelays
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Exporter{cfg: cfg, store: store, factory: factory, m: m}
}

// Key builds <prefix>/<mode>/<year>/<seq>-<part>-<hash>.sql.gz
func Key(prefix string, mode domain.Mode, year, seq, part int, payload []byte) string {
	sum := sha256.Sum256(payload)
	name := fmt.Sprintf("%05d-%04d-%s.sql.gz", seq, part, hex.EncodeToString(sum[:])[:12])
	return path.Join(prefix, string(mode), fmt.Sprint(year), name)
}

// Compress gzips payload. The header carries no name or mtime so output is stable
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export compresses and uploads one payload. It never returns an error:
// exhausted retries are logged and reported as a failed chunk.
func (e *Exporter) Export(ctx context.Context, job domain.Job, seq, part int, payload []byte) domain.Chunk {
	c := domain.Chunk{
		Seq:  seq,
		Part: part,
		Key:  Key(e.cfg.Prefix, job.Mode, job.Year, seq, part, payload),
	}
	log := logger.C(ctx).With().Str("key", c.Key).Logger()

	gz, err := Compress(payload)
	if err != nil {
		c.Status, c.ErrText = domain.ChunkFailed, err.Error()
		log.Error().Err(err).Msg("export: compress failed")
		e.m.ChunksFlushed.WithLabelValues(string(c.Status)).Inc()
		return c
	}
	c.Bytes = len(gz)

	if e.cfg.DryRun {
		c.Status = domain.ChunkDryRun
		log.Info().Int("bytes", c.Bytes).Msg("export: dry run, upload skipped")
		e.m.ChunksFlushed.WithLabelValues(string(c.Status)).Inc()
		return c
	}

	start := time.Now()
	opts := domain.PutOptions{ContentType: "application/sql", ContentEncoding: "gzip", ACL: e.cfg.ACL}
	var last error
	for i, delay := range e.cfg.Delays {
		attempt := i + 1
		if err := sleep(ctx, delay); err != nil {
			last = err
			break
		}
		c.Attempts = attempt

		client, err := e.clientFor(attempt)
		if err == nil {
			err = client.Put(ctx, e.cfg.Bucket, c.Key, gz, opts)
		}
		if err == nil {
			c.Status = domain.ChunkUploaded
			e.m.UploadAttempts.WithLabelValues("ok").Inc()
			e.m.UploadSeconds.Observe(time.Since(start).Seconds())
			e.m.ChunksFlushed.WithLabelValues(string(c.Status)).Inc()
			log.Debug().Int("attempt", attempt).Int("bytes", c.Bytes).Msg("export: uploaded")
			return c
		}
		last = err
		e.m.UploadAttempts.WithLabelValues("retry").Inc()
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("of", len(e.cfg.Delays)).
			Bool("retryable", perr.Retryable(err)).
			Msg("export: put failed")
	}

	c.Status = domain.ChunkFailed
	if last != nil {
		c.ErrText = last.Error()
	}
	e.m.UploadAttempts.WithLabelValues("failed").Inc()
	e.m.ChunksFlushed.WithLabelValues(string(c.Status)).Inc()
	log.Error().Err(last).Int("attempts", c.Attempts).Msg("export: giving up on chunk")
	return c
}

// clientFor returns the shared client or, from FreshFrom on, a new one with its own pool
func (e *Exporter) clientFor(attempt int) (domain.ObjectStore, error) {
	if e.factory == nil || e.cfg.FreshFrom <= 0 || attempt < e.cfg.FreshFrom {
		return e.store, nil
	}
	return e.factory.Fresh()
}

// Probe checks write access to the destination by writing then deleting a marker
func (e *Exporter) Probe(ctx context.Context, runID string) error {
	if e.cfg.DryRun {
		return nil
	}
	key := path.Join(e.cfg.Prefix, ".probe-"+runID)
	if err := e.store.Put(ctx, e.cfg.Bucket, key, []byte("ok"), domain.PutOptions{ACL: e.cfg.ACL}); err != nil {
		return perr.WithOp(err, "export.probe")
	}
	if err := e.store.Delete(ctx, e.cfg.Bucket, key); err != nil {
		return perr.WithOp(err, "export.probe")
	}
	return nil
}
