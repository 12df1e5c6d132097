package pg

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestCompact(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"select 1", "select 1"},
		{"  select   1  ", " select 1 "},
		{"INSERT INTO repo_mapping\n\tVALUES (1,'a/b', 2)", "INSERT INTO repo_mapping VALUES (1,'a/b', 2)"},
		{"", ""},
	}
	for i, c := range cases {
		if got := compact(c.in); got != c.want {
			t.Fatalf("case %d: compact(%q) = %q, want %q", i, c.in, got, c.want)
		}
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got, cut := clip("short", 10); got != "short" || cut {
		t.Fatalf("clip short = %q,%v", got, cut)
	}
	if got, cut := clip("abcdef", 3); got != "abc" || !cut {
		t.Fatalf("clip = %q,%v", got, cut)
	}
	// "é" is two bytes; cutting inside it must back off to the boundary
	if got, _ := clip("aé", 2); got != "a" {
		t.Fatalf("clip rune boundary = %q", got)
	}
}

type logLine struct {
	Level        string  `json:"level"`
	ElapsedMS    float64 `json:"elapsed_ms"`
	Slow         bool    `json:"slow"`
	SQL          string  `json:"sql"`
	SQLLen       int     `json:"sql_len"`
	SQLTruncated bool    `json:"sql_truncated"`
	Error        string  `json:"error"`
	Message      string  `json:"message"`
	Component    string  `json:"component"`
}

func decode(t *testing.T, buf *bytes.Buffer) logLine {
	t.Helper()
	var line logLine
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unmarshal log: %v\nraw=%s", err, buf.String())
	}
	buf.Reset()
	return line
}

func TestTracer_Levels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf))

	ev := QueryEvent{SQL: "SELECT  1", ElapsedUS: 12345}
	tr.OnQuery(context.Background(), ev)
	line := decode(t, &buf)
	if line.Level != "info" || line.SQL != "SELECT 1" || line.Component != "pg" || line.Message != "pg query" {
		t.Fatalf("info line = %+v", line)
	}
	if math.Abs(line.ElapsedMS-12.345) > 0.0005 {
		t.Fatalf("elapsed_ms = %v", line.ElapsedMS)
	}

	ev.Slow = true
	tr.OnQuery(context.Background(), ev)
	if line = decode(t, &buf); line.Level != "warn" || !line.Slow {
		t.Fatalf("slow line = %+v", line)
	}

	ev.Err = errors.New("boom")
	tr.OnQuery(context.Background(), ev)
	if line = decode(t, &buf); line.Level != "error" || line.Error != "boom" {
		t.Fatalf("error line = %+v", line)
	}
}

func TestTracer_TruncatesLargeStatements(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf))

	stmt := strings.Repeat("INSERT INTO committer_repo (actor_name, repo_id) VALUES ('alice', 1) ON CONFLICT DO NOTHING;\n", 100)
	tr.OnQuery(context.Background(), QueryEvent{SQL: stmt})

	line := decode(t, &buf)
	if !line.SQLTruncated || len(line.SQL) != maxLoggedSQL {
		t.Fatalf("truncated=%v len=%d", line.SQLTruncated, len(line.SQL))
	}
	if line.SQLLen != len(stmt) {
		t.Fatalf("sql_len = %d, want %d", line.SQLLen, len(stmt))
	}
}
