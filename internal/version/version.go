// Package version carries build identification stamped in via ldflags:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0 \
//	  -X .../internal/version.GitSHA=$(git rev-parse --short HEAD) \
//	  -X .../internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	// Version is the release tag, or "dev" for unstamped builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String renders the stamped identity in the form the service logs at
// startup, e.g. "v1.2.0 (4f9c2aa)" or "dev (unknown)".
func String() string {
	return Version + " (" + GitSHA + ")"
}
