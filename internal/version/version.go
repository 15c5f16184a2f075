// Package version carries build metadata, set at link time:
//
//	go build -ldflags "-X github.com/banshee-data/arplace/internal/version.Version=v0.3.0 \
//	    -X github.com/banshee-data/arplace/internal/version.GitSHA=$(git rev-parse --short HEAD)"
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

// String renders the build metadata on one line, as printed by -version.
func String() string {
	return fmt.Sprintf("arplace %s (git %s, built %s)", Version, GitSHA, BuildTime)
}
