// Package cli implements the reelq command-line interface using Cobra.
// Every command except serve talks to a running daemon over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reelq",
	Short: "Schedule video generation across provider credentials",
	Long: `reelq queues video generation requests and spreads them over a pool
of provider credentials, respecting each credential's concurrency limit and
credit balance. Completed videos are stored locally and kept in history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	apiAddr  string
	apiToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "", "Daemon address (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API token (default from $REELQ_HOME/keys/api.token)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
