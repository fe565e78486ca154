package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Terminal progress for artifact downloads:
//   ============>......  42% | 12 MB / 28 MB | 4.5 MB/s | ETA 3s

const barWidth = 30 // Characters for the progress bar

// progressWriter counts bytes written through it and redraws the bar.
type progressWriter struct {
	out     io.Writer
	total   int64 // 0 when the server sent no Content-Length
	written int64
	started time.Time
	last    time.Time
}

func newProgressWriter(out io.Writer, total int64) *progressWriter {
	now := time.Now()
	return &progressWriter{out: out, total: total, started: now}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	now := time.Now()
	if now.Sub(p.last) >= 100*time.Millisecond {
		p.render(now)
		p.last = now
	}
	return len(b), nil
}

// finish draws the final state and ends the line.
func (p *progressWriter) finish() {
	p.render(time.Now())
	fmt.Fprintln(p.out)
}

func (p *progressWriter) render(now time.Time) {
	clearLine(p.out)
	if p.total <= 0 {
		fmt.Fprintf(p.out, "  %s | %s", humanize.Bytes(uint64(p.written)), p.speed(now))
		return
	}

	pct := float64(p.written) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	fmt.Fprintf(p.out, "  %s %3.0f%% | %s / %s | %s | %s",
		progressBar(pct), pct,
		humanize.Bytes(uint64(p.written)), humanize.Bytes(uint64(p.total)),
		p.speed(now), p.eta(pct, now))
}

func progressBar(pct float64) string {
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	empty := barWidth - filled

	switch {
	case filled == barWidth:
		return strings.Repeat("=", filled)
	case filled > 0:
		return strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	default:
		return strings.Repeat(".", barWidth)
	}
}

func (p *progressWriter) speed(now time.Time) string {
	elapsed := now.Sub(p.started).Seconds()
	if elapsed < 0.5 {
		return "-- B/s"
	}
	return humanize.Bytes(uint64(float64(p.written)/elapsed)) + "/s"
}

func (p *progressWriter) eta(pct float64, now time.Time) string {
	if pct <= 0 || pct >= 100 {
		return "ETA --"
	}
	elapsed := now.Sub(p.started)
	if elapsed < time.Second {
		return "ETA --"
	}
	remaining := time.Duration(float64(elapsed)/(pct/100)) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return "ETA " + formatElapsed(remaining)
}

// ─── Task Watch ─────────────────────────────────────────────────────────────

// statusLine redraws a single line with the state of a watched task.
type statusLine struct {
	out     io.Writer
	started time.Time
	last    string
}

func newStatusLine(out io.Writer) *statusLine {
	return &statusLine{out: out, started: time.Now()}
}

func (s *statusLine) update(state, detail string) {
	line := state
	if detail != "" {
		line += ": " + detail
	}
	if line == s.last {
		return
	}
	s.last = line
	clearLine(s.out)
	fmt.Fprintf(s.out, "[%s] %s", formatElapsed(time.Since(s.started)), line)
}

func (s *statusLine) done(msg string) {
	clearLine(s.out)
	fmt.Fprintf(s.out, "[%s] %s\n", formatElapsed(time.Since(s.started)), msg)
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}
