package version

import "fmt"

// Version is set via build-time ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/shq/internal/version.Version=v0.3.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by `shq --version` and logged on daemon start.
func String() string {
	return fmt.Sprintf("shq %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
