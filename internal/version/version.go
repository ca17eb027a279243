// Package version reports build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/localizer/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and run logs.
func String() string {
	return fmt.Sprintf("localize %s (%s, built %s)", Version, GitSHA, BuildTime)
}
