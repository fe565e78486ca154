package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/reelq/internal/domain"
)

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitOpts.model, "model", "m", "sora-2", "Provider model")
	f.StringVarP(&submitOpts.duration, "duration", "d", "", "Clip duration in seconds (10 or 15)")
	f.StringVarP(&submitOpts.aspect, "aspect", "a", "16:9", "Aspect ratio (16:9 or 9:16)")
	f.StringVar(&submitOpts.resolution, "resolution", "", "Resolution (720p, 1080p)")
	f.StringVar(&submitOpts.size, "size", "", "Quality tier for pro models (standard, high)")
	f.StringVar(&submitOpts.image, "image", "", "Start frame image URL")
	f.StringVar(&submitOpts.endImage, "end-image", "", "End frame image URL")
	f.BoolVar(&submitOpts.keepWatermark, "no-watermark-removal", false, "Keep the provider watermark")
	f.BoolVarP(&submitOpts.wait, "wait", "w", false, "Wait for the task to finish")
	f.DurationVar(&submitOpts.interval, "interval", 2*time.Second, "Poll interval with --wait")
	rootCmd.AddCommand(submitCmd)
}

var submitOpts struct {
	model, duration, aspect, resolution, size string
	image, endImage                           string
	keepWatermark, wait                       bool
	interval                                  time.Duration
}

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Queue a video generation task",
	Example: `  reelq submit "a lighthouse at dusk, slow dolly in" --duration 15
  reelq submit "the cat turns around" --image https://example.com/cat.png --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func submitPayload(prompt string) domain.Payload {
	p := domain.Payload{
		Prompt:     strings.TrimSpace(prompt),
		StartImage: submitOpts.image,
		EndImage:   submitOpts.endImage,
		Settings: domain.VideoSettings{
			Model:       submitOpts.model,
			AspectRatio: submitOpts.aspect,
			Resolution:  submitOpts.resolution,
			Duration:    submitOpts.duration,
			Size:        submitOpts.size,
		},
	}
	if submitOpts.keepWatermark {
		keep := false
		p.Settings.RemoveWatermark = &keep
	}
	return p
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var prompt string
	if len(args) > 0 {
		prompt = args[0]
	}
	payload := submitPayload(prompt)
	if err := payload.Validate(); err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var task domain.Task
	if err := c.post(ctx, "/api/tasks", payload, &task); err != nil {
		return err
	}
	fmt.Printf("Queued %s (%s)\n", task.ID, task.Payload.Settings.Model)

	if !submitOpts.wait {
		return nil
	}
	final, err := waitForTask(ctx, c, task.ID, submitOpts.interval)
	if err != nil {
		return err
	}
	if final.Status == domain.TaskFailed {
		return fmt.Errorf("task %s failed: %s", final.ID, final.Error)
	}
	fmt.Printf("Download with: reelq history download %s\n", final.ID)
	return nil
}

// waitForTask polls a task until it reaches a terminal state.
func waitForTask(ctx context.Context, c *Client, id string, interval time.Duration) (domain.Task, error) {
	line := newStatusLine(os.Stderr)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var task domain.Task
		if err := c.get(ctx, "/api/tasks/"+id, &task); err != nil {
			return domain.Task{}, err
		}

		switch task.Status {
		case domain.TaskCompleted:
			line.done(taskStatus(task.Status))
			return task, nil
		case domain.TaskFailed:
			line.done(taskStatus(task.Status) + ": " + task.Error)
			return task, nil
		case domain.TaskProcessing:
			line.update(string(task.Status)+" on "+task.AssignedWorker, task.Progress)
		default:
			detail := ""
			if task.RetryCount > 0 {
				detail = fmt.Sprintf("retry %d", task.RetryCount)
			}
			line.update(string(task.Status), detail)
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return domain.Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
