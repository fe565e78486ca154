package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/tutu-network/reelq/internal/api"
	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Tables ─────────────────────────────────────────────────────────────────

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func renderTasks(w io.Writer, tasks []domain.Task) {
	table := newTable(w, "ID", "Status", "Model", "Worker", "Retries", "Prompt", "Updated")
	for _, t := range tasks {
		detail := t.Progress
		if t.Error != "" {
			detail = t.Error
		}
		status := taskStatus(t.Status)
		if detail != "" {
			status += " (" + detail + ")"
		}
		table.Append([]string{
			shortID(t.ID),
			status,
			t.Payload.Settings.Model,
			dash(t.AssignedWorker),
			strconv.Itoa(t.RetryCount),
			truncate(t.Payload.Prompt, 40),
			humanize.Time(t.UpdatedAt),
		})
	}
	table.Render()
}

func renderWorkers(w io.Writer, workers []api.WorkerView) {
	table := newTable(w, "ID", "Label", "Secret", "Status", "Active", "Credits", "Completed", "Reconciled")
	for _, wk := range workers {
		status := workerStatus(wk.Status)
		if wk.QuarantineReason != "" {
			status += " (" + wk.QuarantineReason + ")"
		}
		reconciled := "never"
		if wk.LastReconciledAt != nil {
			reconciled = humanize.Time(*wk.LastReconciledAt)
		}
		table.Append([]string{
			wk.ID,
			dash(wk.Label),
			wk.Secret,
			status,
			fmt.Sprintf("%d/%d", wk.ActiveCount, wk.ConcurrencyLimit),
			humanize.Comma(wk.CreditBalance),
			humanize.Comma(wk.TotalCompleted),
			reconciled,
		})
	}
	table.Render()
}

func renderHistory(w io.Writer, records []domain.ResultRecord) {
	table := newTable(w, "Task", "Model", "Size", "Prompt", "Completed")
	for _, r := range records {
		table.Append([]string{
			r.TaskID,
			r.Model,
			humanize.Bytes(uint64(r.SizeBytes)),
			truncate(r.Prompt, 48),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

func renderRefresh(w io.Writer, results []refreshResult) {
	table := newTable(w, "Worker", "Credits", "Result")
	for _, r := range results {
		outcome := color.GreenString("ok")
		if r.Error != "" {
			outcome = color.RedString(r.Error)
		}
		table.Append([]string{r.WorkerID, humanize.Comma(r.Balance), outcome})
	}
	table.Render()
}

func renderLedger(w io.Writer, entries []domain.LedgerEntry) {
	table := newTable(w, "Time", "Type", "Amount", "Balance", "Task", "Description")
	for _, e := range entries {
		amount := humanize.Comma(e.Amount)
		if e.EntryType == domain.EntryDebit {
			amount = "-" + amount
		}
		table.Append([]string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(e.Type),
			amount,
			humanize.Comma(e.Balance),
			dash(shortID(e.TaskID)),
			e.Description,
		})
	}
	table.Render()
}

func renderStatus(w io.Writer, st api.StatusResponse) {
	fmt.Fprintf(w, "Uptime:    %s\n", st.Uptime)
	fmt.Fprintf(w, "Workers:   %d\n", st.Workers)
	fmt.Fprintf(w, "Tasks:     %s %d  %s %d  %s %d  %s %d\n",
		taskStatus(domain.TaskPending), st.Tasks[domain.TaskPending],
		taskStatus(domain.TaskProcessing), st.Tasks[domain.TaskProcessing],
		taskStatus(domain.TaskCompleted), st.Tasks[domain.TaskCompleted],
		taskStatus(domain.TaskFailed), st.Tasks[domain.TaskFailed],
	)
	s := st.Scheduler
	fmt.Fprintf(w, "Scheduler: %d ticks, %d assigned, %d in flight, %d completed, %d failed, %d retried, %d quarantined\n",
		s.Ticks, s.Assigned, s.InFlight, s.Completed, s.Failed, s.Retried, s.Quarantined)
}

// ─── Formatting ─────────────────────────────────────────────────────────────

func taskStatus(s domain.TaskStatus) string {
	switch s {
	case domain.TaskCompleted:
		return color.GreenString(string(s))
	case domain.TaskFailed:
		return color.RedString(string(s))
	case domain.TaskProcessing:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func workerStatus(s domain.WorkerStatus) string {
	switch s {
	case domain.WorkerQuarantined:
		return color.RedString(string(s))
	case domain.WorkerBusy:
		return color.YellowString(string(s))
	default:
		return color.GreenString(string(s))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
