// Package version exposes build-time version information.
// The values are overridden at link time with -ldflags.
package version

var (
	// Version is the release version (git tag or "dev")
	Version = "dev"
	// Commit is the git commit hash the binary was built from
	Commit = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
