// Package sqlgen renders deduplicated rollup windows as batched INSERT statements
package sqlgen

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"ghafacts/internal/core/normalize"
	"ghafacts/internal/services/rollup/domain"
)

// Schema creates the target tables
//
//go:embed schema.sql
var Schema string

// Target tables
const (
	RepoTable      = "repo_mapping"
	CommitterTable = "committer_facts"
)

const (
	repoInsertHead = "INSERT INTO " + RepoTable + " (repo_id, repo_name, event_ts) VALUES "
	// conditional update keeps latest-wins across chunks and reloads
	repoConflict = " ON CONFLICT (repo_id) DO UPDATE SET repo_name = EXCLUDED.repo_name, event_ts = EXCLUDED.event_ts" +
		" WHERE " + RepoTable + ".event_ts < EXCLUDED.event_ts;"

	commitInsertHead = "INSERT INTO " + CommitterTable + " (repo_id, contributor) VALUES "
	commitConflict   = " ON CONFLICT DO NOTHING;"
)

// Repos renders rows in batches of width. A batch that repeats a repo_id is
// emitted as one single-row statement per row, since one upsert statement may
// not affect the same row twice.
func Repos(rows []domain.RepoIDToName, width int) []string {
	width = max(width, 1)
	out := make([]string, 0, (len(rows)+width-1)/width)
	for i := 0; i < len(rows); i += width {
		batch := rows[i:min(i+width, len(rows))]
		if hasRepeatedRepoID(batch) {
			for _, r := range batch {
				out = append(out, repoStatement([]domain.RepoIDToName{r}))
			}
			continue
		}
		out = append(out, repoStatement(batch))
	}
	return out
}

func hasRepeatedRepoID(batch []domain.RepoIDToName) bool {
	seen := make(map[int64]struct{}, len(batch))
	for _, r := range batch {
		if _, ok := seen[r.RepoID]; ok {
			return true
		}
		seen[r.RepoID] = struct{}{}
	}
	return false
}

func repoStatement(batch []domain.RepoIDToName) string {
	var b strings.Builder
	b.Grow(len(repoInsertHead) + len(repoConflict) + 64*len(batch))
	b.WriteString(repoInsertHead)
	for i, r := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(strconv.FormatInt(r.RepoID, 10))
		b.WriteString(", ")
		b.WriteString(Quote(r.RepoName))
		b.WriteString(", ")
		b.WriteString(Quote(r.EventTS.UTC().Format(time.RFC3339)))
		b.WriteByte(')')
	}
	b.WriteString(repoConflict)
	return b.String()
}

// Committers renders rows in batches of width, optionally hashing the contributor
func Committers(rows []domain.CommitEvent, width int, obfuscate bool) []string {
	width = max(width, 1)
	out := make([]string, 0, (len(rows)+width-1)/width)
	for i := 0; i < len(rows); i += width {
		batch := rows[i:min(i+width, len(rows))]
		var b strings.Builder
		b.Grow(len(commitInsertHead) + len(commitConflict) + 48*len(batch))
		b.WriteString(commitInsertHead)
		for j, r := range batch {
			if j > 0 {
				b.WriteString(", ")
			}
			who := r.Contributor
			if obfuscate {
				who = Obfuscate(who)
			}
			b.WriteByte('(')
			b.WriteString(strconv.FormatInt(r.RepoID, 10))
			b.WriteString(", ")
			b.WriteString(Quote(who))
			b.WriteByte(')')
		}
		b.WriteString(commitConflict)
		out = append(out, b.String())
	}
	return out
}

// Obfuscate returns the hex sha256 of the folded login, namespaced by "actor:"
func Obfuscate(login string) string {
	sum := sha256.Sum256([]byte("actor:" + normalize.Fold(login)))
	return hex.EncodeToString(sum[:])
}

// Quote renders s as a standard SQL string literal
func Quote(s string) string {
	return "'" + strings.ReplaceAll(normalize.Sanitize(s), "'", "''") + "'"
}

// Split groups statements into payloads of at most perFile statements,
// newline-joined with a trailing newline
func Split(stmts []string, perFile int) [][]byte {
	perFile = max(perFile, 1)
	out := make([][]byte, 0, (len(stmts)+perFile-1)/perFile)
	for i := 0; i < len(stmts); i += perFile {
		group := stmts[i:min(i+perFile, len(stmts))]
		n := 0
		for _, s := range group {
			n += len(s) + 1
		}
		buf := make([]byte, 0, n)
		for _, s := range group {
			buf = append(buf, s...)
			buf = append(buf, '\n')
		}
		out = append(out, buf)
	}
	return out
}
