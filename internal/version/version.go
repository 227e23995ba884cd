// Package version exposes build metadata, overridden at link time via
// -ldflags "-X github.com/banshee-data/lastile/internal/version.Version=...".
package version

var (
	// Version is the release tag or "dev" for local builds.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
