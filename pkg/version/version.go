// Package version reports the opnxt build.
// The variables are injected at build time via ldflags.
package version

import "fmt"

// Build information set with, for example,
// go build -ldflags "-X opnxt/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, or "dev" for development builds.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("opnxt %s (commit %s, built %s)", Version, Commit, Date)
}
