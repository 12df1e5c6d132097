package ingest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"ghafacts/internal/adapters/ingest/gharchive"
	"ghafacts/internal/adapters/objstore"
	kit "ghafacts/internal/platform/testkit"
	"ghafacts/internal/services/rollup/domain"
)

const (
	pushAlice1 = `{"id":"1","type":"PushEvent","actor":{"id":1,"login":"alice"},"repo":{"id":1,"name":"o/one"},"payload":{"size":1,"commits":[{"sha":"a"}]},"created_at":"2015-01-01T00:00:00Z"}`
	prBob1     = `{"id":"2","type":"PullRequestEvent","actor":{"id":3,"login":"maintainer"},"repo":{"id":1,"name":"o/one"},"payload":{"pull_request":{"merged":true,"user":{"login":"bob"}}},"created_at":"2015-01-01T01:00:00Z"}`
	pushAlice2 = `{"id":"3","type":"PushEvent","actor":{"id":1,"login":"alice"},"repo":{"id":2,"name":"o/two"},"payload":{"size":2,"commits":[{"sha":"b"},{"sha":"c"}]},"created_at":"2015-01-01T02:00:00Z"}`
	watch      = `{"id":"4","type":"WatchEvent","actor":{"id":9,"login":"eve"},"repo":{"id":2,"name":"o/two"},"payload":{"action":"started"},"created_at":"2015-01-01T03:00:00Z"}`
)

func seedThreeFiles(t *testing.T, m *objstore.Memory) []string {
	t.Helper()
	files := []string{"2015-01-01-0.json.gz", "2015-01-01-1.json.gz", "2015-01-01-2.json.gz"}
	m.Seed("src", files[0], kit.GzipLines(t, pushAlice1, watch, `{bad`))
	m.Seed("src", files[1], kit.GzipLines(t, prBob1))
	m.Seed("src", files[2], kit.GzipLines(t, pushAlice2, pushAlice1))
	return files
}

func collect[T any](t *testing.T, p *Pool[T], files []string, depth int) []T {
	t.Helper()
	out := make(chan []T, depth)
	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background(), files, out) }()

	var all []T
	for recs := range out {
		all = append(all, recs...)
	}
	if err := <-errc; err != nil {
		t.Fatalf("run: %v", err)
	}
	return all
}

func TestPool_CommitsAcrossWorkers(t *testing.T) {
	noSleep(t)
	m := objstore.NewMemory()
	files := seedThreeFiles(t, m)

	for _, workers := range []int{1, 2, 3} {
		p := NewPool(Config{Workers: workers, BatchFiles: 2}, &Source{Store: m, Bucket: "src"},
			gharchive.EraCurrent, Commits, nil, nil)
		got := collect(t, p, files, 0)
		slices.SortFunc(got, gharchive.CompareCommits)
		got = slices.Compact(got)

		want := []domain.CommitEvent{
			{Contributor: "alice", RepoID: 1},
			{Contributor: "alice", RepoID: 2},
			{Contributor: "bob", RepoID: 1},
		}
		if !slices.Equal(got, want) {
			t.Fatalf("workers=%d got %+v", workers, got)
		}

		stats := p.Stats()
		if len(stats) != 3 {
			t.Fatalf("stats = %d", len(stats))
		}
		var malformed int
		for _, s := range stats {
			malformed += s.Malformed
		}
		if malformed != 1 {
			t.Fatalf("malformed = %d", malformed)
		}
	}
}

func TestPool_FetchFailureIsBestEffort(t *testing.T) {
	noSleep(t)
	m := objstore.NewMemory()
	files := seedThreeFiles(t, m)
	m.FailGets("src", files[1], 2)

	p := NewPool(Config{Workers: 2, BatchFiles: 1}, &Source{Store: m, Bucket: "src"},
		gharchive.EraCurrent, Commits, nil, nil)
	got := collect(t, p, append(files, "2015-01-01-9.json.gz"), 1)
	for _, r := range got {
		if r.Contributor == "bob" {
			t.Fatalf("failed file should contribute nothing: %+v", got)
		}
	}

	failed := 0
	for _, s := range p.Stats() {
		if s.Status == StatusFetchFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("fetch failures = %d, want 2", failed)
	}
}

func TestPool_CompactsPerFile(t *testing.T) {
	noSleep(t)
	m := objstore.NewMemory()
	m.Seed("src", "2015-01-01-0.json.gz", kit.GzipLines(t, pushAlice1, pushAlice1, pushAlice1))

	compact := func(rs []domain.CommitEvent) []domain.CommitEvent {
		slices.SortFunc(rs, gharchive.CompareCommits)
		return slices.Compact(rs)
	}
	p := NewPool(Config{Workers: 1, BatchFiles: 1}, &Source{Store: m, Bucket: "src"},
		gharchive.EraCurrent, Commits, compact, nil)
	got := collect(t, p, []string{"2015-01-01-0.json.gz"}, 1)
	if len(got) != 1 {
		t.Fatalf("got %d records", len(got))
	}
	// Records counts projections before the per-file dedup
	if p.Stats()[0].Records != 3 || p.Stats()[0].Events != 3 {
		t.Fatalf("stats %+v", p.Stats()[0])
	}
}

func TestPool_RepoNames(t *testing.T) {
	noSleep(t)
	m := objstore.NewMemory()
	files := seedThreeFiles(t, m)
	p := NewPool(Config{Workers: 2, BatchFiles: 3}, &Source{Store: m, Bucket: "src"},
		gharchive.EraCurrent, RepoNames, nil, nil)
	got := collect(t, p, files, 4)
	if len(got) != 5 {
		t.Fatalf("got %d observations, want 5", len(got))
	}
}

func TestPool_CancelClosesQueue(t *testing.T) {
	noSleep(t)
	m := objstore.NewMemory()
	files := seedThreeFiles(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan []domain.CommitEvent) // unbuffered and never read
	p := NewPool(Config{Workers: 2, BatchFiles: 1}, &Source{Store: m, Bucket: "src"},
		gharchive.EraCurrent, Commits, nil, nil)
	err := p.Run(ctx, files, out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, ok := <-out; ok {
		t.Fatalf("queue should be closed")
	}
}
