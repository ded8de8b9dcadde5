package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ─── Progress Bars ──────────────────────────────────────────────────────────
// Level progress:   [=========>....................]  31%
// Simulation:       [=========>....................]  31% | 310/1000 ticks | ETA 12s

const barWidth = 30 // Characters for the progress bar

// bar renders pct (0-100) as [=====>.....].
func bar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var b string
	if filled == barWidth {
		b = strings.Repeat("=", filled)
	} else if filled > 0 {
		b = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		b = strings.Repeat(".", barWidth)
	}
	return "[" + b + "]"
}

// xpBar renders progress toward the next level.
func xpBar(current, required int64) string {
	if required <= 0 {
		return bar(0) + "   0%"
	}
	pct := float64(current) / float64(required) * 100
	return fmt.Sprintf("%s %3.0f%%", bar(pct), pct)
}

type progressBar struct {
	out     io.Writer
	started time.Time
	total   int
}

func newProgressBar(out io.Writer, total int) *progressBar {
	return &progressBar{out: out, started: time.Now(), total: total}
}

// update redraws the bar for done of total ticks.
func (p *progressBar) update(done int) {
	if p.total <= 0 {
		return
	}
	pct := float64(done) / float64(p.total) * 100
	fmt.Fprintf(p.out, "\r\033[K  %s %3.0f%% | %d/%d ticks | %s",
		bar(pct), pct, done, p.total, p.eta(pct, time.Now()))
}

// finish ends the bar line.
func (p *progressBar) finish() {
	p.update(p.total)
	fmt.Fprintln(p.out)
}

func (p *progressBar) eta(pct float64, now time.Time) string {
	if pct <= 0 || pct >= 100 {
		return "ETA --"
	}

	elapsed := now.Sub(p.started).Seconds()
	if elapsed < 1 {
		return "ETA --"
	}

	remaining := elapsed/(pct/100) - elapsed
	if remaining < 0 {
		remaining = 0
	}

	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", int(remaining))
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", int(remaining)/60, int(remaining)%60)
	}
	return fmt.Sprintf("ETA %dh%dm", int(remaining)/3600, (int(remaining)%3600)/60)
}
