// Package version holds build metadata set with -ldflags.
package version

import "fmt"

var (
	// Version is the release version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for --version output.
func String(program string) string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("%s %s (commit %s, built %s)", program, Version, sha, BuildTime)
}
