// Package domain holds the data structures and ports shared by the rollup pipeline
package domain

import (
	"fmt"
	"strings"
	"time"

	"ghafacts/internal/adapters/ingest/gharchive"
)

type (
	// Event re-exports the era-independent event surface produced by the decoder
	Event = gharchive.Event

	// Era re-exports the schema era selector
	Era = gharchive.Era

	// CommitEvent re-exports the committer projection
	CommitEvent = gharchive.CommitEvent

	// RepoIDToName re-exports the repository name projection
	RepoIDToName = gharchive.RepoIDToName
)

// Mode selects which derived dataset a run produces
type Mode string

const (
	// ModeCommitters produces per-(repository, contributor) facts
	ModeCommitters Mode = "committer-count"
	// ModeRepoMapping produces per-repository canonical names
	ModeRepoMapping Mode = "repo-mapping"
)

// ParseMode accepts the canonical names plus the short forms used by the CLI flags
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeCommitters), "committers":
		return ModeCommitters, nil
	case string(ModeRepoMapping), "repos":
		return ModeRepoMapping, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Job is the run configuration built once at startup and passed down explicitly
type Job struct {
	Mode         Mode
	Year         int
	Hours        int
	DryRun       bool
	Obfuscate    bool
	SourceBucket string
	DestBucket   string
	DestPrefix   string
	DestACL      string
}

// Era returns the schema era for the job's year
func (j Job) Era() Era { return gharchive.EraForYear(j.Year) }

// ChunkStatus records what happened to one exported SQL file
type ChunkStatus string

const (
	ChunkUploaded ChunkStatus = "uploaded"
	ChunkFailed   ChunkStatus = "failed"
	ChunkDryRun   ChunkStatus = "dry_run"
)

// FileStat is the per-file ingest outcome
type FileStat struct {
	Key               string
	Status            string // ok|fetch_failed|read_failed
	Attempts          int
	Events            int
	Malformed         int
	Records           int // projected before the per-file compaction
	BytesUncompressed int64
	FetchMS           int
	ReadMS            int
	FinishedAt        time.Time
}

// Chunk is one exported SQL file
type Chunk struct {
	Seq        int // flush number, starts at 0
	Part       int // file number within the flush
	Key        string
	Statements int
	Rows       int
	Bytes      int // compressed size
	Attempts   int
	Status     ChunkStatus
	ErrText    string
}

// RunReport is the summary a run prints and persists
type RunReport struct {
	RunID        string
	Files        int
	FilesFailed  int
	Events       int
	Malformed    int
	Records      int // projected records before dedup
	Unique       int // records after dedup, summed over flushes
	Flushes      int
	Chunks       int
	ChunksFailed int
	Statements   int
	Elapsed      time.Duration
}
