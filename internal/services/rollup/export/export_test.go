package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"ghafacts/internal/adapters/objstore"
	kit "ghafacts/internal/platform/testkit"
	"ghafacts/internal/services/rollup/domain"
)

var job = domain.Job{Mode: domain.ModeCommitters, Year: 2015}

type countingFactory struct {
	store *objstore.Memory
	fresh int
}

func (f *countingFactory) Fresh() (domain.ObjectStore, error) {
	f.fresh++
	return f.store, nil
}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	kit.Swap(t, &sleep, func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	return &slept
}

func TestKey(t *testing.T) {
	k := Key("rollups", domain.ModeRepoMapping, 2014, 3, 12, []byte("x"))
	if !strings.HasPrefix(k, "rollups/repo-mapping/2014/00003-0012-") || !strings.HasSuffix(k, ".sql.gz") {
		t.Fatalf("key %q", k)
	}
	if k != Key("rollups", domain.ModeRepoMapping, 2014, 3, 12, []byte("x")) {
		t.Fatalf("key must be stable")
	}
	if k == Key("rollups", domain.ModeRepoMapping, 2014, 3, 12, []byte("y")) {
		t.Fatalf("key must depend on content")
	}
}

func TestCompress_Stable(t *testing.T) {
	a, err := Compress([]byte("INSERT 1;\n"))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	b, _ := Compress([]byte("INSERT 1;\n"))
	if string(a) != string(b) {
		t.Fatalf("compression output should be deterministic")
	}
	if got := kit.Gunzip(t, a); got != "INSERT 1;\n" {
		t.Fatalf("round trip %q", got)
	}
}

func TestExport_Uploads(t *testing.T) {
	recordSleeps(t)
	m := objstore.NewMemory()
	e := New(Config{Bucket: "dst", Prefix: "p", ACL: "bucket-owner-full-control"}, m, nil, nil)

	c := e.Export(context.Background(), job, 0, 0, []byte("INSERT 1;\n"))
	if c.Status != domain.ChunkUploaded || c.Attempts != 1 {
		t.Fatalf("chunk %+v", c)
	}
	body, ok := m.Object("dst", c.Key)
	if !ok || kit.Gunzip(t, body) != "INSERT 1;\n" {
		t.Fatalf("object missing or wrong")
	}
	meta := m.Meta("dst", c.Key)
	if meta.ACL != "bucket-owner-full-control" || meta.ContentEncoding != "gzip" {
		t.Fatalf("meta %+v", meta)
	}
}

func TestExport_RetriesWithDelaysAndFreshClient(t *testing.T) {
	slept := recordSleeps(t)
	m := objstore.NewMemory()
	m.FailPuts(3)
	f := &countingFactory{store: m}
	e := New(Config{Bucket: "dst", FreshFrom: 3}, m, f, nil)

	c := e.Export(context.Background(), job, 1, 0, []byte("x"))
	if c.Status != domain.ChunkUploaded || c.Attempts != 4 {
		t.Fatalf("chunk %+v", c)
	}
	want := []time.Duration{0, 0, 5 * time.Second, 15 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v", *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("slept %v", *slept)
		}
	}
	if f.fresh != 2 {
		t.Fatalf("fresh clients = %d, want 2 (attempts 3 and 4)", f.fresh)
	}
}

func TestExport_ExhaustedIsNonFatal(t *testing.T) {
	recordSleeps(t)
	m := objstore.NewMemory()
	m.FailPuts(10)
	e := New(Config{Bucket: "dst", Delays: []time.Duration{0, time.Second}}, m, nil, nil)

	c := e.Export(context.Background(), job, 0, 0, []byte("x"))
	if c.Status != domain.ChunkFailed || c.Attempts != 2 || c.ErrText == "" {
		t.Fatalf("chunk %+v", c)
	}
	if len(m.Keys("dst", "")) != 0 {
		t.Fatalf("failed chunk must be absent from destination")
	}
}

func TestExport_DryRunSkipsPut(t *testing.T) {
	recordSleeps(t)
	m := objstore.NewMemory()
	e := New(Config{Bucket: "dst", DryRun: true}, m, nil, nil)
	c := e.Export(context.Background(), job, 0, 0, []byte("INSERT 1;\n"))
	if c.Status != domain.ChunkDryRun || c.Bytes == 0 {
		t.Fatalf("chunk %+v", c)
	}
	if _, puts := m.Calls(); puts != 0 {
		t.Fatalf("dry run must not put")
	}
	if err := e.Probe(context.Background(), "r"); err != nil {
		t.Fatalf("dry run probe: %v", err)
	}
}

func TestExport_CancelStopsRetries(t *testing.T) {
	m := objstore.NewMemory()
	m.FailPuts(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(Config{Bucket: "dst"}, m, nil, nil)
	c := e.Export(ctx, job, 0, 0, []byte("x"))
	if c.Status != domain.ChunkFailed || c.Attempts != 0 {
		t.Fatalf("chunk %+v", c)
	}
}

func TestProbe(t *testing.T) {
	m := objstore.NewMemory()
	e := New(Config{Bucket: "dst", Prefix: "p"}, m, nil, nil)
	if err := e.Probe(context.Background(), "run1"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if _, puts := m.Calls(); puts != 1 {
		t.Fatalf("expected one probe put")
	}
	if len(m.Keys("dst", "")) != 0 {
		t.Fatalf("probe object should be deleted")
	}

	m.FailPuts(1)
	if err := e.Probe(context.Background(), "run2"); err == nil {
		t.Fatalf("expected probe failure")
	}
}
