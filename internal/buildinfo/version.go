// Package buildinfo holds values injected at link time
package buildinfo

// Set with -ldflags, e.g.
// go build -ldflags "-X github.com/YoshitsuguKoike/quotacycle/internal/buildinfo.Version=v1.0.0 -X github.com/YoshitsuguKoike/quotacycle/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns the version, "dev" for local builds
func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// GetCommit returns the source revision, or "unknown"
func GetCommit() string {
	if Commit == "" {
		return "unknown"
	}
	return Commit
}
