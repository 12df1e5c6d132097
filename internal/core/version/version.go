// Package version reports the build identity of the binaries
package version

import "runtime/debug"

// BuildInfo holds version information about a binary
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Set via -ldflags "-X 'ghafacts/internal/core/version.version=v0.1.0'
// -X 'ghafacts/internal/core/version.commit=abcd' -X 'ghafacts/internal/core/version.date=2026-01-02'"
var (
	version = "dev"
	commit  = ""
	date    = "unknown"
)

// readBuildInfo is a seam for tests
var readBuildInfo = debug.ReadBuildInfo

// Info returns the build information for service. Without an ldflags commit
// the vcs revision stamped by the go tool is used
func Info(service string) BuildInfo {
	c := commit
	if c == "" {
		c = vcsRevision()
	}
	return BuildInfo{Service: service, Version: version, Commit: c, Date: date}
}

// Short returns the first seven characters of the commit
func (b BuildInfo) Short() string {
	if len(b.Commit) > 7 {
		return b.Commit[:7]
	}
	return b.Commit
}

func vcsRevision() string {
	if bi, ok := readBuildInfo(); ok && bi != nil {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return "unknown"
}
