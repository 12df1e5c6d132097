package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"ghafacts/internal/platform/logger"
	"ghafacts/internal/services/rollup/domain"
)

const cleanupEvery = 10 * time.Minute

// CachedStore serves Get from a local directory, filling it on miss.
// Other calls pass through. Layout mirrors bucket/key under dir.
type CachedStore struct {
	domain.ObjectStore
	dir             string
	maxBytes        int64
	lastCleanupUnix atomic.Int64
	hits            atomic.Int64
	misses          atomic.Int64
}

// NewCachedStore wraps inner; maxBytes <= 0 disables retention
func NewCachedStore(inner domain.ObjectStore, dir string, maxBytes int64) (*CachedStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CachedStore{ObjectStore: inner, dir: dir, maxBytes: maxBytes}, nil
}

// Stats returns cache hits and misses so far
func (c *CachedStore) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedStore) localPath(bucket, key string) string {
	clean := filepath.Clean("/" + bucket + "/" + key)
	return filepath.Join(c.dir, clean)
}

// Get implements domain.ObjectStore
func (c *CachedStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p := c.localPath(bucket, key)
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		f, err := os.Open(p)
		if err == nil {
			c.hits.Add(1)
			now := time.Now()
			_ = os.Chtimes(p, now, now)
			return f, nil
		}
	}
	c.misses.Add(1)

	rc, err := c.ObjectStore.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := c.store(p, rc)
	if err != nil {
		logger.C(ctx).Warn().Err(err).Str("key", key).Msg("objstore: cache write failed")
		// the inner body is consumed; fetch again uncached
		return c.ObjectStore.Get(ctx, bucket, key)
	}
	// f stays readable even if retention unlinks p
	c.maybeCleanup()
	return f, nil
}

// store writes rc to p atomically, closes rc and returns p opened at offset 0
func (c *CachedStore) store(p string, rc io.ReadCloser) (*os.File, error) {
	defer func() { _ = rc.Close() }()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	tmp := p + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*os.File, error) {
		_ = out.Close()
		_ = os.Remove(tmp)
		return nil, err
	}
	if _, err := io.Copy(out, rc); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fail(err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

// maybeCleanup throttles retention to once per cleanupEvery
func (c *CachedStore) maybeCleanup() {
	if c.maxBytes <= 0 {
		return
	}
	now := time.Now().Unix()
	last := c.lastCleanupUnix.Load()
	if last != 0 && now-last < int64(cleanupEvery/time.Second) {
		return
	}
	if !c.lastCleanupUnix.CompareAndSwap(last, now) {
		return
	}
	_ = c.cleanupOnce()
}

// cleanupOnce evicts least recently used files until the cache fits maxBytes
func (c *CachedStore) cleanupOnce() error {
	type item struct {
		path  string
		size  int64
		mtime time.Time
	}
	var items []item
	var total int64
	err := filepath.WalkDir(c.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(p, ".part") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		items = append(items, item{path: p, size: fi.Size(), mtime: fi.ModTime()})
		total += fi.Size()
		return nil
	})
	if err != nil {
		return err
	}
	if total <= c.maxBytes {
		return nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].mtime.Before(items[j].mtime) })
	for _, it := range items {
		if total <= c.maxBytes {
			break
		}
		if os.Remove(it.path) == nil {
			total -= it.size
		}
	}
	return nil
}
