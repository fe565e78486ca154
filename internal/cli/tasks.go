package cli

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/reelq/internal/api"
	"github.com/tutu-network/reelq/internal/domain"
)

func init() {
	tasksCmd.Flags().StringVarP(&tasksStatus, "status", "s", "", "Filter by status (pending, processing, completed, failed)")
	tasksCmd.AddCommand(taskShowCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(statusCmd)
}

var tasksStatus string

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"ps"},
	Short:   "List queued and finished tasks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		path := "/api/tasks"
		if tasksStatus != "" {
			path += "?status=" + url.QueryEscape(tasksStatus)
		}

		var resp struct {
			Tasks []domain.Task `json:"tasks"`
		}
		if err := c.get(cmd.Context(), path, &resp); err != nil {
			return err
		}
		if len(resp.Tasks) == 0 {
			fmt.Println("No tasks. Run 'reelq submit <prompt>' to queue one.")
			return nil
		}
		renderTasks(os.Stdout, resp.Tasks)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its transition log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		id := url.PathEscape(args[0])

		var task domain.Task
		if err := c.get(cmd.Context(), "/api/tasks/"+id, &task); err != nil {
			return err
		}
		renderTasks(os.Stdout, []domain.Task{task})

		var resp struct {
			Events []domain.TaskEvent `json:"events"`
		}
		if err := c.get(cmd.Context(), "/api/tasks/"+id+"/events", &resp); err != nil {
			return err
		}
		if len(resp.Events) == 0 {
			return nil
		}
		fmt.Println()
		table := newTable(os.Stdout, "Time", "From", "To", "Worker", "Retry", "Detail")
		for _, e := range resp.Events {
			table.Append([]string{
				e.Timestamp.Local().Format("15:04:05"),
				dash(string(e.FromStatus)),
				taskStatus(e.ToStatus),
				dash(e.WorkerID),
				fmt.Sprint(e.RetryCount),
				e.Detail,
			})
		}
		table.Render()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and scheduler status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var st api.StatusResponse
		if err := c.get(cmd.Context(), "/api/status", &st); err != nil {
			return err
		}
		renderStatus(os.Stdout, st)
		return nil
	},
}
