package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/reelq/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use the in-process mock provider")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
	serveMock bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reelq daemon",
	Long:  `Start the scheduler and the HTTP API (default 127.0.0.1:8787).`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveMock {
		cfg.Provider.Kind = daemon.ProviderMock
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}

	return d.Serve(context.Background())
}
