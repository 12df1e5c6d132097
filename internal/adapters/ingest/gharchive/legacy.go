package gharchive

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// legacyTimeLayouts are tried in order; the 2011-2012 timeline used the slash form
var legacyTimeLayouts = []string{
	time.RFC3339,
	"2006/01/02 15:04:05 -0700",
}

// LegacyEvent is the pre-2015 timeline shape. Repository may appear as
// "repository" (2011-2014) or "repo"; actor may be a bare login or an object.
type LegacyEvent struct {
	Type            string        `json:"type"`
	Actor           flexUser      `json:"actor"`
	ActorAttributes *flexUser     `json:"actor_attributes"`
	Repository      *legacyRepo   `json:"repository"`
	Repo            *legacyRepo   `json:"repo"`
	CreatedAt       legacyTime    `json:"created_at"`
	Payload         *eventPayload `json:"payload"`
}

type legacyRepo struct {
	ID    *int64   `json:"id"`
	Name  string   `json:"name"`
	Owner flexUser `json:"owner"`
	URL   string   `json:"url"`
}

// flexUser accepts "login", {"login": ...} or {"name": ...}
type flexUser struct {
	Login string
}

// UnmarshalJSON implements json.Unmarshaler
func (u *flexUser) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &u.Login)
	}
	var obj struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	u.Login = obj.Login
	if u.Login == "" {
		u.Login = obj.Name
	}
	return nil
}

// legacyTime parses the timestamp formats seen in the timeline archive
type legacyTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *legacyTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	var err error
	for _, layout := range legacyTimeLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return err
}

// Kind returns the event type string
func (e *LegacyEvent) Kind() string { return e.Type }

func (e *LegacyEvent) repo() *legacyRepo {
	if e.Repository != nil {
		return e.Repository
	}
	return e.Repo
}

// ActorLogin prefers actor_attributes.login over the actor field
func (e *LegacyEvent) ActorLogin() string {
	if e.ActorAttributes != nil && strings.TrimSpace(e.ActorAttributes.Login) != "" {
		return e.ActorAttributes.Login
	}
	return e.Actor.Login
}

// RepoID returns the repository id, or -1 when the line carried none
func (e *LegacyEvent) RepoID() int64 {
	r := e.repo()
	if r == nil || r.ID == nil {
		return noRepoID
	}
	return *r.ID
}

// FullRepoName resolves "owner/name" from the name, owner+name, or the URL path
func (e *LegacyEvent) FullRepoName() string {
	r := e.repo()
	if r == nil {
		return ""
	}
	name := strings.Trim(strings.TrimSpace(r.Name), "/")
	if strings.Contains(name, "/") {
		return name
	}
	owner := strings.TrimSpace(r.Owner.Login)
	if owner != "" && name != "" {
		return owner + "/" + name
	}
	if full, ok := ownerRepoFromURL(r.URL); ok {
		return full
	}
	return ""
}

// IsAcceptedPR implements Event
func (e *LegacyEvent) IsAcceptedPR() bool { return isAcceptedPR(e.Type, e.Payload.merged()) }

// IsDirectPush implements Event; legacy pushes report only a size
func (e *LegacyEvent) IsDirectPush() bool { return isDirectPush(e.Type, e.Payload.commitCount()) }

// IsContribution implements Event
func (e *LegacyEvent) IsContribution() bool { return e.IsAcceptedPR() || e.IsDirectPush() }

// CommitEvent credits a merged PR to its author and a push to the acting actor
func (e *LegacyEvent) CommitEvent() (CommitEvent, bool) {
	switch {
	case e.IsAcceptedPR():
		return commitFrom(e.Payload.prAuthor(), e.RepoID())
	case e.IsDirectPush():
		return commitFrom(e.ActorLogin(), e.RepoID())
	}
	return CommitEvent{}, false
}

// RepoName implements Event
func (e *LegacyEvent) RepoName() (RepoIDToName, bool) {
	if e.CreatedAt.IsZero() {
		return RepoIDToName{}, false
	}
	return repoNameFrom(e.RepoID(), e.FullRepoName(), e.CreatedAt.Time)
}

// ownerRepoFromURL takes the last two path segments of a repository URL
func ownerRepoFromURL(u string) (string, bool) {
	u = strings.TrimSpace(u)
	if u == "" {
		return "", false
	}
	p := u
	if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
		p = parsed.Path
	}
	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	parts := strings.Split(p, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", false
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1], true
}
