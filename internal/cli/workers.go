package cli

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/reelq/internal/api"
	"github.com/tutu-network/reelq/internal/daemon"
	"github.com/tutu-network/reelq/internal/domain"
)

func init() {
	workerSetCmd.Flags().StringVar(&workerSecret, "secret", "", "Provider API key")
	workerSetCmd.Flags().StringVar(&workerLabel, "label", "", "Display label")
	workerLedgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "Maximum number of entries to show")

	workersCmd.AddCommand(workerSetCmd, workerRestoreCmd, workerRefreshCmd, workerImportCmd, workerLedgerCmd)
	rootCmd.AddCommand(workersCmd)
}

var (
	workerSecret string
	workerLabel  string
	ledgerLimit  int
)

// refreshResult mirrors the scheduler's per-worker refresh outcome.
type refreshResult struct {
	WorkerID string `json:"worker_id"`
	Balance  int64  `json:"balance"`
	Error    string `json:"error,omitempty"`
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List provider credentials and their credit state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var resp struct {
			Workers []api.WorkerView `json:"workers"`
		}
		if err := c.get(cmd.Context(), "/api/workers", &resp); err != nil {
			return err
		}
		if len(resp.Workers) == 0 {
			fmt.Println("No workers configured. Run 'reelq workers set <id> --secret <key>' to add one.")
			return nil
		}
		renderWorkers(os.Stdout, resp.Workers)
		return nil
	},
}

var workerSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Add or update a worker credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var view api.WorkerView
		req := api.ConfigureWorkerRequest{Secret: workerSecret, Label: workerLabel}
		if err := c.put(cmd.Context(), "/api/workers/"+url.PathEscape(args[0]), req, &view); err != nil {
			return err
		}
		renderWorkers(os.Stdout, []api.WorkerView{view})
		return nil
	},
}

var workerRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Clear a worker's quarantine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var view api.WorkerView
		if err := c.post(cmd.Context(), "/api/workers/"+url.PathEscape(args[0])+"/restore", nil, &view); err != nil {
			return err
		}
		fmt.Printf("Worker %s is %s\n", view.ID, workerStatus(view.Status))
		return nil
	},
}

var workerRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch live credit balances for every worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var resp struct {
			Results []refreshResult `json:"results"`
		}
		if err := c.post(cmd.Context(), "/api/workers/refresh", nil, &resp); err != nil {
			return err
		}
		renderRefresh(os.Stdout, resp.Results)
		return nil
	},
}

var workerImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import worker credentials from a YAML file",
	Example: `  # workers.yaml
  workers:
    - id: main
      secret: sk-...
      label: primary account`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		specs, err := daemon.ParseCredentials(data)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		var resp struct {
			Workers []api.WorkerView `json:"workers"`
		}
		if err := c.post(cmd.Context(), "/api/workers/import", api.ImportWorkersRequest{Workers: specs}, &resp); err != nil {
			return err
		}
		fmt.Printf("Imported %d credential(s)\n", len(specs))
		renderWorkers(os.Stdout, resp.Workers)
		return nil
	},
}

var workerLedgerCmd = &cobra.Command{
	Use:   "ledger <id>",
	Short: "Show a worker's credit ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var resp struct {
			Entries []domain.LedgerEntry `json:"entries"`
		}
		path := fmt.Sprintf("/api/workers/%s/ledger?limit=%d", url.PathEscape(args[0]), ledgerLimit)
		if err := c.get(cmd.Context(), path, &resp); err != nil {
			return err
		}
		if len(resp.Entries) == 0 {
			fmt.Println("No ledger entries.")
			return nil
		}
		renderLedger(os.Stdout, resp.Entries)
		return nil
	},
}
