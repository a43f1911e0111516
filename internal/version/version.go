package version

import "fmt"

var (
	// Version is the semantic version of the release tooling. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// productName prefixes the user agent sent with outgoing HTTP requests.
const productName = "super-release"

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}

// UserAgent identifies the tooling in HTTP requests (source downloads).
func UserAgent() string {
	return productName + "/" + Version
}
