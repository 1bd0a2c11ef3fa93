// Command regrets-agent runs the local collection agent for the regrets
// reporter browser extension.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "regrets-agent",
	Short: "Local collection agent for the regrets reporter extension",
	Long: `regrets-agent receives instrumentation from the browser extension,
groups tab activity into navigation batches and stores size bounded
telemetry records locally, optionally publishing them to NATS JetStream.

Run without a subcommand to start serving.`,
	Version:      fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "regrets-agent %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.AddCommand(versionCmd)
}
