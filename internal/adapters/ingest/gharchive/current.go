package gharchive

import (
	"time"
)

// CurrentEvent is the Events API shape archived from 2015 on
type CurrentEvent struct {
	ID        int64         `json:"id,string"`
	Type      string        `json:"type"`
	Actor     currentActor  `json:"actor"`
	Repo      currentRepo   `json:"repo"`
	CreatedAt time.Time     `json:"created_at"`
	Payload   *eventPayload `json:"payload"`
}

type currentActor struct {
	ID    int64   `json:"id"`
	Login *string `json:"login"`
}

type currentRepo struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

// eventPayload holds the payload fields the projections read; both eras share it
type eventPayload struct {
	Size        int64        `json:"size"`
	Commits     []struct{}   `json:"commits"`
	PullRequest *pullRequest `json:"pull_request"`
}

type pullRequest struct {
	Merged *bool     `json:"merged"`
	User   *flexUser `json:"user"`
}

// commitCount is max(len(commits), size); the archive truncates commit lists at 20
func (p *eventPayload) commitCount() int64 {
	if p == nil {
		return 0
	}
	n := int64(len(p.Commits))
	if p.Size > n {
		return p.Size
	}
	return n
}

func (p *eventPayload) merged() *bool {
	if p == nil || p.PullRequest == nil {
		return nil
	}
	return p.PullRequest.Merged
}

func (p *eventPayload) prAuthor() string {
	if p == nil || p.PullRequest == nil || p.PullRequest.User == nil {
		return ""
	}
	return p.PullRequest.User.Login
}

// Kind returns the event type string
func (e *CurrentEvent) Kind() string { return e.Type }

// ActorLogin returns the actor login or ""
func (e *CurrentEvent) ActorLogin() string {
	if e.Actor.Login == nil {
		return ""
	}
	return *e.Actor.Login
}

// RepoID returns the repository id, or -1 when the line carried none
func (e *CurrentEvent) RepoID() int64 {
	if e.Repo.ID == nil {
		return noRepoID
	}
	return *e.Repo.ID
}

// IsAcceptedPR implements Event
func (e *CurrentEvent) IsAcceptedPR() bool { return isAcceptedPR(e.Type, e.Payload.merged()) }

// IsDirectPush implements Event
func (e *CurrentEvent) IsDirectPush() bool { return isDirectPush(e.Type, e.Payload.commitCount()) }

// IsContribution implements Event
func (e *CurrentEvent) IsContribution() bool { return e.IsAcceptedPR() || e.IsDirectPush() }

// CommitEvent credits a merged PR to its author and a push to the acting actor
func (e *CurrentEvent) CommitEvent() (CommitEvent, bool) {
	switch {
	case e.IsAcceptedPR():
		return commitFrom(e.Payload.prAuthor(), e.RepoID())
	case e.IsDirectPush():
		return commitFrom(e.ActorLogin(), e.RepoID())
	}
	return CommitEvent{}, false
}

// RepoName implements Event
func (e *CurrentEvent) RepoName() (RepoIDToName, bool) {
	if e.CreatedAt.IsZero() {
		return RepoIDToName{}, false
	}
	return repoNameFrom(e.RepoID(), e.Repo.Name, e.CreatedAt)
}
