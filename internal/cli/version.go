package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("synapse %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
	},
}

// VersionString returns a formatted version string for health checks.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
