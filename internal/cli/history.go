package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tutu-network/reelq/internal/domain"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of results to show")
	historyDownloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file (default <id>.mp4)")

	historyCmd.AddCommand(historyDownloadCmd)
	rootCmd.AddCommand(historyCmd)
}

var (
	historyLimit   int
	downloadOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed videos",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var resp struct {
			Results []domain.ResultRecord `json:"results"`
		}
		if err := c.get(cmd.Context(), fmt.Sprintf("/api/history?limit=%d", historyLimit), &resp); err != nil {
			return fmt.Errorf("error listing history: %w", err)
		}
		if len(resp.Results) == 0 {
			fmt.Println("No completed videos yet.")
			return nil
		}
		renderHistory(os.Stdout, resp.Results)
		return nil
	},
}

var historyDownloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download a completed video from the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out := downloadOutput
		if out == "" {
			out = args[0] + ".mp4"
		}
		n, err := downloadArtifact(cmd.Context(), c, args[0], out, os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%s)\n", out, humanize.Bytes(uint64(n)))
		return nil
	},
}

// downloadArtifact streams a stored video into path, drawing progress on status.
// The file only appears at path once the transfer completed.
func downloadArtifact(ctx context.Context, c *Client, id, path string, status io.Writer) (int64, error) {
	resp, err := c.stream(ctx, "/api/history/"+url.PathEscape(id)+"/artifact")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".reelq-download-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	bar := newProgressWriter(status, resp.ContentLength)
	n, err := io.Copy(io.MultiWriter(tmp, bar), resp.Body)
	bar.finish()
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("download %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return n, nil
}
