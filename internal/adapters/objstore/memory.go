package objstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/services/rollup/domain"
)

// Memory is an in-process domain.ObjectStore. Safe for concurrent use
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]domain.PutOptions

	// failGet[bucket/key] transient failures left before Get succeeds
	failGet map[string]int
	// failPut transient failures left before any Put succeeds
	failPut int

	gets int
	puts int
}

// NewMemory returns an empty store
func NewMemory() *Memory {
	return &Memory{
		objects: map[string][]byte{},
		meta:    map[string]domain.PutOptions{},
		failGet: map[string]int{},
	}
}

func path(bucket, key string) string { return bucket + "/" + key }

// Seed stores an object directly
func (m *Memory) Seed(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path(bucket, key)] = append([]byte(nil), body...)
}

// FailGets makes the next n Gets of bucket/key fail with a transient error
func (m *Memory) FailGets(bucket, key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet[path(bucket, key)] = n
}

// FailPuts makes the next n Puts fail with a transient error
func (m *Memory) FailPuts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = n
}

// Object returns a stored object and whether it exists
func (m *Memory) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path(bucket, key)]
	return b, ok
}

// Meta returns the put options recorded for an object
func (m *Memory) Meta(bucket, key string) domain.PutOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[path(bucket, key)]
}

// Keys lists every key in bucket under prefix, sorted
func (m *Memory) Keys(bucket, prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysLocked(bucket, prefix)
}

func (m *Memory) keysLocked(bucket, prefix string) []string {
	var out []string
	bp := bucket + "/"
	for p := range m.objects {
		if !strings.HasPrefix(p, bp) {
			continue
		}
		k := strings.TrimPrefix(p, bp)
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Calls returns the number of Get and Put calls seen, including failed ones
func (m *Memory) Calls() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

// List implements domain.ObjectStore. Tokens are the decimal offset of the next key
func (m *Memory) List(
	_ context.Context,
	bucket, prefix, startAfter string,
	maxKeys int,
	token string,
) (domain.ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.keysLocked(bucket, prefix)
	keys := all[:0:0]
	for _, k := range all {
		if k > startAfter {
			keys = append(keys, k)
		}
	}
	off := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(keys) {
			return domain.ListPage{}, perr.InvalidArgf("objstore: bad continuation token %q", token)
		}
		off = n
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	end := min(off+maxKeys, len(keys))
	page := domain.ListPage{Keys: append([]string(nil), keys[off:end]...)}
	if end < len(keys) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// Get implements domain.ObjectStore
func (m *Memory) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p := path(bucket, key)
	if n := m.failGet[p]; n > 0 {
		m.failGet[p] = n - 1
		return nil, perr.Unavailablef("objstore: get %s: injected failure", p)
	}
	b, ok := m.objects[p]
	if !ok {
		return nil, perr.NotFoundf("objstore: get %s: no such key", p)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Put implements domain.ObjectStore
func (m *Memory) Put(_ context.Context, bucket, key string, body []byte, opts domain.PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut > 0 {
		m.failPut--
		return perr.Unavailablef("objstore: put %s: injected failure", path(bucket, key))
	}
	p := path(bucket, key)
	m.objects[p] = append([]byte(nil), body...)
	m.meta[p] = opts
	return nil
}

// Delete implements domain.ObjectStore
func (m *Memory) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := path(bucket, key)
	delete(m.objects, p)
	delete(m.meta, p)
	return nil
}

// Fresh implements domain.StoreFactory by handing out the same store
func (m *Memory) Fresh() (domain.ObjectStore, error) { return m, nil }
