package gharchive

import (
	"cmp"
	"strings"
	"time"

	"ghafacts/internal/core/normalize"
)

// Era selects the event schema for a run
type Era int

const (
	// EraLegacy is the pre-2015 timeline schema
	EraLegacy Era = iota
	// EraCurrent is the Events API schema used from 2015 on
	EraCurrent
)

// currentSchemaFrom is the first archive year written with the Events API schema
const currentSchemaFrom = 2015

// EraForYear returns the schema era for a processing year
func EraForYear(year int) Era {
	if year < currentSchemaFrom {
		return EraLegacy
	}
	return EraCurrent
}

func (e Era) String() string {
	if e == EraLegacy {
		return "legacy"
	}
	return "current"
}

// Event kinds the projections look at
const (
	KindPush        = "PushEvent"
	KindPullRequest = "PullRequestEvent"
)

// noRepoID marks an event whose source carried no repository id
const noRepoID int64 = -1

// Event is the capability surface shared by both schema eras
type Event interface {
	Kind() string
	// IsAcceptedPR reports a pull request event whose merged flag is present and true
	IsAcceptedPR() bool
	// IsDirectPush reports a push event carrying at least one commit
	IsDirectPush() bool
	// IsContribution is IsAcceptedPR || IsDirectPush
	IsContribution() bool
	// CommitEvent projects a contribution; false for non-contributions and unusable ids
	CommitEvent() (CommitEvent, bool)
	// RepoName projects the repository id/name pair seen at the event time
	RepoName() (RepoIDToName, bool)
}

// CommitEvent is one unit of accepted contribution: a contributor and the repository it landed in
type CommitEvent struct {
	Contributor string
	RepoID      int64
}

// CompareCommits orders by (Contributor, RepoID)
func CompareCommits(a, b CommitEvent) int {
	if c := strings.Compare(a.Contributor, b.Contributor); c != 0 {
		return c
	}
	return cmp.Compare(a.RepoID, b.RepoID)
}

// RepoIDToName is a repository name observed at EventTS
type RepoIDToName struct {
	RepoID   int64
	RepoName string
	EventTS  time.Time
}

// CompareRepoNames orders by RepoID ascending, then newest EventTS first, then name
// so the first record per id is the one to keep
func CompareRepoNames(a, b RepoIDToName) int {
	if c := cmp.Compare(a.RepoID, b.RepoID); c != 0 {
		return c
	}
	if c := b.EventTS.Compare(a.EventTS); c != 0 {
		return c
	}
	return strings.Compare(a.RepoName, b.RepoName)
}

// classification shared by both eras

func isAcceptedPR(kind string, merged *bool) bool {
	return kind == KindPullRequest && merged != nil && *merged
}

func isDirectPush(kind string, commits int64) bool {
	return kind == KindPush && commits > 0
}

func commitFrom(contributor string, repoID int64) (CommitEvent, bool) {
	contributor = normalize.Identity(contributor)
	if contributor == "" || repoID < 0 {
		return CommitEvent{}, false
	}
	return CommitEvent{Contributor: contributor, RepoID: repoID}, true
}

func repoNameFrom(id int64, name string, ts time.Time) (RepoIDToName, bool) {
	name = normalize.Identity(name)
	if id < 0 || name == "" {
		return RepoIDToName{}, false
	}
	return RepoIDToName{RepoID: id, RepoName: name, EventTS: ts.UTC()}, true
}
