package gharchive

import (
	"testing"
	"time"
)

func TestLegacy_PushBySize(t *testing.T) {
	ev := mustDecode(t, EraLegacy, `{"repository":{"id":42,"name":"hello","owner":"Octo","url":"https://github.com/Octo/hello"},"actor":"alice","actor_attributes":{"login":"alice"},"type":"PushEvent","created_at":"2012-03-10T22:00:02-08:00","payload":{"size":2,"shas":[]}}`)
	if !ev.IsDirectPush() {
		t.Fatalf("expected direct push")
	}
	ce, ok := ev.CommitEvent()
	if !ok || ce != (CommitEvent{Contributor: "alice", RepoID: 42}) {
		t.Fatalf("got %+v ok=%v", ce, ok)
	}
}

func TestLegacy_PushZeroSize(t *testing.T) {
	ev := mustDecode(t, EraLegacy, `{"repository":{"id":42,"name":"hello","owner":"octo"},"actor":"alice","type":"PushEvent","created_at":"2012-03-10T22:00:02-08:00","payload":{"size":0}}`)
	if ev.IsDirectPush() || ev.IsContribution() {
		t.Fatalf("zero-size push is not a contribution")
	}
}

func TestLegacy_ActorShapes(t *testing.T) {
	cases := map[string]string{
		"string":          `{"repository":{"id":1,"name":"r","owner":"o"},"actor":"alice","type":"PushEvent","created_at":"2013-01-01T00:00:00Z","payload":{"size":1}}`,
		"object":          `{"repository":{"id":1,"name":"r","owner":"o"},"actor":{"login":"alice"},"type":"PushEvent","created_at":"2013-01-01T00:00:00Z","payload":{"size":1}}`,
		"attributes only": `{"repository":{"id":1,"name":"r","owner":"o"},"actor_attributes":{"login":"alice"},"type":"PushEvent","created_at":"2013-01-01T00:00:00Z","payload":{"size":1}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			ce, ok := mustDecode(t, EraLegacy, line).CommitEvent()
			if !ok || ce.Contributor != "alice" {
				t.Fatalf("got %+v ok=%v", ce, ok)
			}
		})
	}
}

func TestLegacy_MergedPRCreditsAuthor(t *testing.T) {
	ev := mustDecode(t, EraLegacy, `{"repository":{"id":9,"name":"r","owner":{"login":"o"}},"actor":"merger","type":"PullRequestEvent","created_at":"2013-05-01T10:00:00Z","payload":{"action":"closed","pull_request":{"merged":true,"user":{"login":"bob"}}}}`)
	ce, ok := ev.CommitEvent()
	if !ok || ce != (CommitEvent{Contributor: "bob", RepoID: 9}) {
		t.Fatalf("got %+v ok=%v", ce, ok)
	}
}

func TestLegacy_RepoNameResolution(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{"owner string", `{"repository":{"id":1,"name":"Hello","owner":"Octo"},"type":"WatchEvent","created_at":"2012-01-01T00:00:00Z"}`, "Octo/Hello"},
		{"owner object name", `{"repository":{"id":1,"name":"hello","owner":{"name":"octo"}},"type":"WatchEvent","created_at":"2012-01-01T00:00:00Z"}`, "octo/hello"},
		{"url fallback", `{"repository":{"id":1,"name":"","url":"https://github.com/octo/hello"},"type":"WatchEvent","created_at":"2012-01-01T00:00:00Z"}`, "octo/hello"},
		{"repo field full name", `{"repo":{"id":1,"name":"octo/hello","url":"https://api.github.dev/repos/octo/hello"},"type":"WatchEvent","created_at":"2012-01-01T00:00:00Z"}`, "octo/hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rn, ok := mustDecode(t, EraLegacy, tc.line).RepoName()
			if !ok || rn.RepoName != tc.want || rn.RepoID != 1 {
				t.Fatalf("got %+v ok=%v, want %q", rn, ok, tc.want)
			}
		})
	}
}

func TestLegacy_TimeFormats(t *testing.T) {
	want := time.Date(2012, 3, 11, 6, 0, 2, 0, time.UTC)
	for _, ts := range []string{"2012-03-10T22:00:02-08:00", "2012/03/10 22:00:02 -0800"} {
		rn, ok := mustDecode(t, EraLegacy, `{"repository":{"id":1,"name":"r","owner":"o"},"type":"WatchEvent","created_at":"`+ts+`"}`).RepoName()
		if !ok || !rn.EventTS.Equal(want) {
			t.Fatalf("%s: got %v ok=%v", ts, rn.EventTS, ok)
		}
		if rn.EventTS.Location() != time.UTC {
			t.Fatalf("expected UTC timestamp")
		}
	}
}

func TestLegacy_BadTimeIsMalformed(t *testing.T) {
	if _, err := Decode(EraLegacy, []byte(`{"type":"WatchEvent","created_at":"yesterday"}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLegacy_MissingRepoIDDiscarded(t *testing.T) {
	ev := mustDecode(t, EraLegacy, `{"repository":{"name":"r","owner":"o"},"actor":"alice","type":"PushEvent","created_at":"2012-01-01T00:00:00Z","payload":{"size":1}}`)
	if _, ok := ev.CommitEvent(); ok {
		t.Fatalf("expected discard")
	}
	if _, ok := ev.RepoName(); ok {
		t.Fatalf("expected discard")
	}
}

func TestOwnerRepoFromURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/octo/hello":     "octo/hello",
		"https://github.com/octo/hello.git": "octo/hello",
		"octo/hello/":                       "octo/hello",
	}
	for in, want := range cases {
		if got, ok := ownerRepoFromURL(in); !ok || got != want {
			t.Fatalf("ownerRepoFromURL(%q) = %q,%v", in, got, ok)
		}
	}
	for _, in := range []string{"", "https://github.com/", "solo"} {
		if got, ok := ownerRepoFromURL(in); ok {
			t.Fatalf("ownerRepoFromURL(%q) = %q, want miss", in, got)
		}
	}
}
