package version

import (
	"fmt"
	"runtime"
)

// Build information, set with -ldflags "-X .../pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = ""
)

// Info is the build description served on /version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get(name string) Info {
	return Info{
		Name:      name,
		Version:   Version,
		Commit:    GitCommit,
		Dirty:     GitDirty == "true",
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String formats the info as "musa-server v1.0.0 (abc1234-dirty 2026-01-01T00:00:00Z)".
func (i Info) String() string {
	commit := i.Commit
	if i.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (%s %s)", i.Name, i.Version, commit, i.BuildTime)
}

// GetVersion is Get(name).String().
func GetVersion(name string) string {
	return Get(name).String()
}
