// Package buildinfo reports the version stamped into the vidlens binary.
package buildinfo

import (
	"runtime"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/vidlens/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/vidlens/pkg/buildinfo.Commit=b806fe7
// -X github.com/otherjamesbrown/vidlens/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build info of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a human-readable one-liner like "v0.3.0 (b806fe7, 2026-02-07T10:30:00Z)"
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}
