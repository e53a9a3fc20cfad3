// Package version exposes build information injected at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v0.2.0 -X .../internal/version.Commit=$(git rev-parse HEAD)"
package version

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = ""
)

// String renders the version with a short commit suffix when available.
func String() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 12 {
		c = c[:12]
	}
	return Version + " (" + c + ")"
}
