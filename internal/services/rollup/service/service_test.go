package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ghafacts/internal/adapters/objstore"
	"ghafacts/internal/modkit/repokit"
	perr "ghafacts/internal/platform/errors"
	kit "ghafacts/internal/platform/testkit"
	"ghafacts/internal/services/rollup/aggregate"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/guardrails"
	"ghafacts/internal/services/rollup/ingest"
)

const (
	pushAlice1 = `{"id":"1","type":"PushEvent","actor":{"id":1,"login":"alice"},"repo":{"id":1,"name":"o/one"},"payload":{"size":1,"commits":[{"sha":"a"}]},"created_at":"2015-01-01T00:00:00Z"}`
	prBob1     = `{"id":"2","type":"PullRequestEvent","actor":{"id":3,"login":"maintainer"},"repo":{"id":1,"name":"o/one"},"payload":{"pull_request":{"merged":true,"user":{"login":"bob"}}},"created_at":"2015-01-01T01:00:00Z"}`
	pushAlice2 = `{"id":"3","type":"PushEvent","actor":{"id":1,"login":"alice"},"repo":{"id":2,"name":"o/two"},"payload":{"size":2,"commits":[{"sha":"b"},{"sha":"c"}]},"created_at":"2015-01-01T02:00:00Z"}`
	watch      = `{"id":"4","type":"WatchEvent","actor":{"id":9,"login":"eve"},"repo":{"id":2,"name":"o/two"},"payload":{"action":"started"},"created_at":"2015-01-01T03:00:00Z"}`
	renamed    = `{"id":"5","type":"WatchEvent","actor":{"id":9,"login":"eve"},"repo":{"id":1,"name":"o/renamed"},"payload":{"action":"started"},"created_at":"2015-01-01T05:00:00Z"}`
)

func seed(t *testing.T, m *objstore.Memory) {
	t.Helper()
	m.Seed("src", "2015-01-01-0.json.gz", kit.GzipLines(t, pushAlice1, watch, `{bad`))
	m.Seed("src", "2015-01-01-1.json.gz", kit.GzipLines(t, prBob1, renamed))
	m.Seed("src", "2015-01-01-2.json.gz", kit.GzipLines(t, pushAlice2, pushAlice1))
	m.Seed("src", "2016-01-01-0.json.gz", kit.GzipLines(t, pushAlice1))
}

func testCfg() Config {
	return Config{
		Ingest:            ingest.Config{Workers: 2, BatchFiles: 2},
		QueueDepth:        2,
		Aggregate:         aggregate.Config{CompactEvery: 4, Ceiling: 1000, ConvergeDelta: 1},
		RepoBatch:         5,
		CommitBatch:       20,
		StatementsPerFile: 100,
		UploadDelays:      []time.Duration{0, 0},
	}
}

func newSvc(st domain.ObjectStore, cfg Config) *Service {
	s := New(st, nil, cfg, nil)
	s.newRunID = func() string { return "run-1" }
	return s
}

func job(mode domain.Mode) domain.Job {
	return domain.Job{Mode: mode, Year: 2015, Hours: 3, SourceBucket: "src", DestBucket: "dst", DestPrefix: "out"}
}

func output(t *testing.T, m *objstore.Memory, prefix string) (keys []string, sql string) {
	t.Helper()
	var b strings.Builder
	keys = m.Keys("dst", prefix)
	for _, k := range keys {
		body, _ := m.Object("dst", k)
		b.WriteString(kit.Gunzip(t, body))
	}
	return keys, b.String()
}

func TestRun_Committers(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	rep, err := newSvc(m, testCfg()).Run(context.Background(), job(domain.ModeCommitters))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	keys, sql := output(t, m, "out/committer-count/2015/")
	if len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
	want := "INSERT INTO committer_facts (repo_id, contributor) VALUES (1, 'alice'), (2, 'alice'), (1, 'bob') ON CONFLICT DO NOTHING;\n"
	if sql != want {
		t.Fatalf("sql:\n%s\nwant:\n%s", sql, want)
	}

	if rep.RunID != "run-1" || rep.Files != 3 || rep.FilesFailed != 0 || rep.Malformed != 1 || rep.Events != 6 {
		t.Fatalf("report %+v", rep)
	}
	if rep.Unique != 3 || rep.Flushes != 1 || rep.Chunks != 1 || rep.ChunksFailed != 0 || rep.Statements != 1 {
		t.Fatalf("report %+v", rep)
	}
	if all := m.Keys("dst", ""); len(all) != 1 {
		t.Fatalf("probe object left behind: %v", all)
	}
}

func TestRun_RepoMappingLatestWins(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	rep, err := newSvc(m, testCfg()).Run(context.Background(), job(domain.ModeRepoMapping))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_, sql := output(t, m, "out/repo-mapping/2015/")
	kit.MustContain(t, sql, "(1, 'o/renamed', '2015-01-01T05:00:00Z'), (2, 'o/two', '2015-01-01T03:00:00Z')")
	if strings.Contains(sql, "'o/one'") {
		t.Fatalf("stale name exported:\n%s", sql)
	}
	if rep.Unique != 2 {
		t.Fatalf("unique = %d", rep.Unique)
	}
}

func TestRun_CeilingSplitsIntoChunks(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	cfg := testCfg()
	cfg.Ingest = ingest.Config{Workers: 1, BatchFiles: 1}
	cfg.Aggregate.Ceiling = 2
	cfg.CommitBatch = 1
	cfg.StatementsPerFile = 1

	rep, err := newSvc(m, cfg).Run(context.Background(), job(domain.ModeCommitters))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	keys, sql := output(t, m, "out/committer-count/2015/")
	if rep.Chunks != len(keys) || rep.Flushes < 2 {
		t.Fatalf("chunks %d keys %d flushes %d", rep.Chunks, len(keys), rep.Flushes)
	}
	for _, tuple := range []string{"(1, 'alice')", "(2, 'alice')", "(1, 'bob')"} {
		kit.MustContain(t, sql, tuple)
	}
	if n := strings.Count(sql, "\n"); n != rep.Statements {
		t.Fatalf("statements %d lines %d", rep.Statements, n)
	}
}

type putFailer struct {
	*objstore.Memory
}

func (p putFailer) Put(ctx context.Context, bucket, key string, body []byte, opts domain.PutOptions) error {
	if strings.HasSuffix(key, ".sql.gz") {
		return perr.Unavailablef("put %s: connection reset", key)
	}
	return p.Memory.Put(ctx, bucket, key, body, opts)
}

func TestRun_UploadExhaustionIsNotFatal(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	led := &fakeLedger{}
	s := newSvc(putFailer{m}, testCfg()).WithLedger(fakeTx{}, repokit.BindFunc[domain.LedgerRepo](func(repokit.Queryer) domain.LedgerRepo { return led }))

	rep, err := s.Run(context.Background(), job(domain.ModeCommitters))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.ChunksFailed != 1 || rep.Chunks != 1 {
		t.Fatalf("report %+v", rep)
	}
	if len(m.Keys("dst", "")) != 0 {
		t.Fatalf("failed chunk must be absent")
	}
	if len(led.chunks) != 1 || led.chunks[0].Status != domain.ChunkFailed || led.chunks[0].Attempts != 2 {
		t.Fatalf("ledger chunks %+v", led.chunks)
	}
	if led.finished.ChunksFailed != 1 || led.finishErr != "" {
		t.Fatalf("ledger finish %+v %q", led.finished, led.finishErr)
	}
}

func TestRun_DryRun(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	j := job(domain.ModeCommitters)
	j.DryRun = true
	rep, err := newSvc(m, testCfg()).Run(context.Background(), j)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Chunks != 1 || rep.ChunksFailed != 0 {
		t.Fatalf("report %+v", rep)
	}
	if _, puts := m.Calls(); puts != 0 {
		t.Fatalf("dry run wrote %d objects", puts)
	}
}

type fakeLedger struct {
	started   []domain.Job
	chunks    []domain.Chunk
	finished  domain.RunReport
	finishErr string
}

func (f *fakeLedger) StartRun(_ context.Context, _ string, j domain.Job) error {
	f.started = append(f.started, j)
	return nil
}
func (f *fakeLedger) RecordChunk(_ context.Context, _ string, c domain.Chunk) error {
	f.chunks = append(f.chunks, c)
	return nil
}
func (f *fakeLedger) FinishRun(_ context.Context, _ string, rep domain.RunReport, errText string) error {
	f.finished, f.finishErr = rep, errText
	return nil
}

type fakeTx struct{}

func (fakeTx) Exec(context.Context, string, ...any) (repokit.CommandTag, error) { return nil, nil }
func (fakeTx) Query(context.Context, string, ...any) (repokit.Rows, error)      { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...any) repokit.Row             { return nil }
func (f fakeTx) Tx(_ context.Context, fn func(repokit.Queryer) error) error     { return fn(f) }

type statsSink struct {
	runID string
	stats []domain.FileStat
}

func (s *statsSink) WriteFileStats(_ context.Context, runID string, stats []domain.FileStat) error {
	s.runID, s.stats = runID, stats
	return nil
}

func TestRun_LedgerAndStats(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	m.FailGets("src", "2015-01-01-1.json.gz", 2)
	led := &fakeLedger{}
	sink := &statsSink{}
	s := newSvc(m, testCfg()).
		WithLedger(fakeTx{}, repokit.BindFunc[domain.LedgerRepo](func(repokit.Queryer) domain.LedgerRepo { return led })).
		WithStats(sink)

	rep, err := s.Run(context.Background(), job(domain.ModeCommitters))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.FilesFailed != 1 {
		t.Fatalf("files failed = %d", rep.FilesFailed)
	}
	if len(led.started) != 1 || led.started[0].Year != 2015 {
		t.Fatalf("started %+v", led.started)
	}
	if len(led.chunks) != 1 || led.chunks[0].Status != domain.ChunkUploaded || led.chunks[0].Rows != 2 {
		t.Fatalf("chunks %+v", led.chunks)
	}
	if led.finished.Files != 3 || led.finished.RunID != "run-1" {
		t.Fatalf("finished %+v", led.finished)
	}
	if sink.runID != "run-1" || len(sink.stats) != 3 {
		t.Fatalf("stats sink %q %d", sink.runID, len(sink.stats))
	}
	var failed int
	for _, st := range sink.stats {
		if st.Status == ingest.StatusFetchFailed {
			failed++
			if st.Attempts != 2 {
				t.Fatalf("attempts = %d", st.Attempts)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("fetch failures = %d", failed)
	}
}

func TestRun_LeaseHeld(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	var gotKey string
	s := newSvc(m, testCfg()).WithLease(func(_ context.Context, key, _ string, _ func(context.Context) error) error {
		gotKey = key
		return guardrails.ErrLeaseHeld
	})
	_, err := s.Run(context.Background(), job(domain.ModeRepoMapping))
	if !errors.Is(err, guardrails.ErrLeaseHeld) {
		t.Fatalf("err = %v", err)
	}
	if gotKey != "repo-mapping/2015" {
		t.Fatalf("lease key %q", gotKey)
	}
	if len(m.Keys("dst", "out/repo-mapping")) != 0 {
		t.Fatalf("no output expected while lease is held")
	}
}

func TestRun_InvalidJob(t *testing.T) {
	cases := map[string]func(*domain.Job){
		"hours":  func(j *domain.Job) { j.Hours = 0 },
		"mode":   func(j *domain.Job) { j.Mode = "nope" },
		"bucket": func(j *domain.Job) { j.DestBucket = "" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			j := job(domain.ModeCommitters)
			mut(&j)
			_, err := newSvc(objstore.NewMemory(), testCfg()).Run(context.Background(), j)
			if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestRun_ProbeFailureStopsRun(t *testing.T) {
	m := objstore.NewMemory()
	seed(t, m)
	m.FailPuts(1)
	_, err := newSvc(m, testCfg()).Run(context.Background(), job(domain.ModeCommitters))
	if err == nil {
		t.Fatal("expected probe error")
	}
	if gets, _ := m.Calls(); gets != 0 {
		t.Fatalf("ingest ran after failed probe: %d gets", gets)
	}
}

func TestPartRows(t *testing.T) {
	cases := []struct{ n, width, perFile, part, want int }{
		{n: 45, width: 20, perFile: 10, part: 0, want: 45},
		{n: 45, width: 20, perFile: 1, part: 0, want: 20},
		{n: 45, width: 20, perFile: 1, part: 2, want: 5},
		{n: 7, width: 1, perFile: 3, part: 2, want: 1},
		{n: 0, width: 5, perFile: 3, part: 0, want: 0},
	}
	for _, tc := range cases {
		if got := partRows(tc.n, tc.width, tc.perFile, tc.part); got != tc.want {
			t.Errorf("partRows(%+v) = %d", tc, got)
		}
	}
}
