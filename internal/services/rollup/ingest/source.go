// Package ingest holds the source reader, archive listing and the ingestion worker pool
package ingest

import (
	"context"
	"io"
	"time"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/guardrails"
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

// Source resolves archive keys to byte streams with one bounded retry
type Source struct {
	Store      domain.ObjectStore
	Bucket     string
	RetryDelay time.Duration
	Timeouts   guardrails.Timeouts
}

// Open fetches key, retrying once after RetryDelay. attempts is 1 or 2
func (s *Source) Open(ctx context.Context, key string) (rc io.ReadCloser, attempts int, err error) {
	for attempts = 1; attempts <= 2; attempts++ {
		fctx, cancel := guardrails.ForFetch(ctx, s.Timeouts)
		rc, err = s.Store.Get(fctx, s.Bucket, key)
		if err == nil {
			return &cancelOnClose{ReadCloser: rc, cancel: cancel}, attempts, nil
		}
		cancel()
		if ctx.Err() != nil || attempts == 2 {
			break
		}
		logger.C(ctx).Warn().Err(err).
			Str("key", key).
			Bool("retryable", perr.Retryable(err)).
			Msg("ingest: fetch failed, retrying once")
		if serr := sleep(ctx, s.RetryDelay); serr != nil {
			return nil, attempts, serr
		}
	}
	return nil, attempts, err
}

// cancelOnClose ties the fetch context to the body lifetime
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
