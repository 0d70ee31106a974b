package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// overridden at build time with -ldflags "-X ...cmd.Version=..."
var (
	// Version is the semver of this build
	Version = "dev"
	// BuildTime is when this build was made
	BuildTime = "unknown"
)

func versionString() string {
	return Version + " (" + BuildTime + ")"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version of this binary",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
