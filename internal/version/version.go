// Package version reports what build is running. Release builds stamp the
// variables with -ldflags "-X github.com/emergent-company/emergent.graph/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// BuildInfo is the JSON shape served by /debug and printed by graphctl.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

// Info fills unstamped fields from the VCS data the go command embeds.
func Info() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" && len(s.Value) >= 12 {
				info.GitCommit = s.Value[:12]
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func (b BuildInfo) String() string {
	s := b.Version
	if b.GitCommit != "" {
		s += " (" + b.GitCommit
		if b.Modified {
			s += "-dirty"
		}
		s += ")"
	}
	return fmt.Sprintf("%s %s", s, b.GoVersion)
}
