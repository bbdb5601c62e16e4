// Package buildinfo exposes the version metadata the release build
// stamps in with -ldflags, plus process uptime.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Stamped via -ldflags "-X .../buildinfo.Version=v1.2.3 ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Uptime is how long this process has been running.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent identifies this binary on outbound HTTP requests.
func UserAgent() string {
	return "agentic-solaris/" + Version
}

// String is the one-line form printed by -version and at startup.
func String() string {
	return fmt.Sprintf("solaris %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// Info returns the build and runtime facts as a map, for the -version
// detail listing.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}
