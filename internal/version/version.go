// Package version holds build metadata for the skref binary.
package version

import (
	"runtime"
	"runtime/debug"
)

// Overridden at build time:
//
//	go build -ldflags "-X skref/internal/version.Version=0.3.0 -X skref/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version   = "0.3.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// BuildInfo is the machine-readable form printed by `skref version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the build metadata. When no commit was injected, the VCS
// revision recorded by the Go toolchain is used if present.
func Get() BuildInfo {
	commit := Commit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return BuildInfo{Version: Version, Commit: commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
}

// Info returns the version with a short commit hash when one is known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns the multi-line form printed by `skref version`.
func Full() string {
	info := Get()
	return "skref version " + info.Version + "\n" +
		"Commit: " + info.Commit + "\n" +
		"Built: " + info.BuildDate + "\n" +
		"Go: " + info.GoVersion
}
