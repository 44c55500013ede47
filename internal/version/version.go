package version

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags
var (
	// Version is the release version, taken from git tags
	Version = "dev"
	// BuildTime is when the binary was built, in RFC 3339
	BuildTime = "unknown"
	// CommitID is the git commit hash
	CommitID = "unknown"
)

// AppName is written into the MuxingApp and WritingApp fields of exports.
const AppName = "gbox-export"

// formatBuildTime renders BuildTime for humans
func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// WritingApp identifies this build inside exported files.
func WritingApp() string {
	return fmt.Sprintf("%s %s", AppName, Version)
}

// Info returns structured version information.
func Info() map[string]string {
	return map[string]string{
		"Version":       Version,
		"GoVersion":     runtime.Version(),
		"GitCommit":     CommitID,
		"BuildTime":     BuildTime,
		"FormattedTime": formatBuildTime(),
		"OS":            runtime.GOOS,
		"Arch":          runtime.GOARCH,
	}
}
