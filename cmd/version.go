package cmd

import "fmt"

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// versionInfo renders the version block printed by `agent version`.
func versionInfo() string {
	return fmt.Sprintf("agent v%s\nBuild: %s\nCommit: %s\n", AppVersion, BuildTime, GitCommit)
}
