// Package version holds build-time version metadata, set with -ldflags.
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = ""
)

// Go returns the stamped toolchain version, or the running one for
// unstamped builds.
func Go() string {
	if GoVersion != "" {
		return GoVersion
	}
	return runtime.Version()
}
