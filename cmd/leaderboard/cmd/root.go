package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "live competition leaderboard service",
	Long: `Leaderboard computes per-competition rankings from the external
record store and pushes live updates over websocket to viewers, driven by
the record store's domain event stream. See 'leaderboard serve' for
configuration.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
