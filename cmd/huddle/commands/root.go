package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Huddle - multi-agent coordination engine",
	Long: `Huddle coordinates a team of agents through a shared blackboard,
a message bus and the contract-net protocol: tasks are announced, agents bid,
the best bid wins and results flow back as knowledge.

Coordination state can be mirrored to Redis (and NATS) so that 'huddle watch'
and 'huddle dump' can follow a running instance from another terminal.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	// e.g., "huddle --goal test" instead of "huddle simulate --goal test"
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
