// Package progress renders driver.Snapshot updates for a human watching
// the run, in one of two ways: a plain line-oriented printer (piped
// stdout, or -q suppressing it entirely) or, when stdout is a terminal, an
// interactive bubbletea dashboard (tui.go) — the same selection the
// teacher's cli/root.go makes between tui.RunApp and runStatusBrief, keyed
// off mattn/go-isatty.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/agusx1211/halfreduce/internal/driver"
)

// LinePrinter renders one line per snapshot to w — the non-interactive
// fallback (piped stdout, or any -v>0 run where a scrolling log is more
// useful than a redrawing dashboard).
type LinePrinter struct {
	w     io.Writer
	start time.Time
}

// NewLinePrinter returns a LinePrinter writing to w.
func NewLinePrinter(w io.Writer) *LinePrinter {
	return &LinePrinter{w: w, start: time.Now()}
}

// Update writes one progress line. Safe to call from the driver's
// OnSnapshot hook directly (it does no I/O beyond a single Fprintf).
func (p *LinePrinter) Update(s driver.Snapshot) {
	status := "running"
	if s.Done {
		status = "done"
	}
	fmt.Fprintf(p.w, "[halfreduce] nodes=%d best=%d bytes (depth %d) in-flight=%d collapsed=%s elapsed=%s %s\n",
		s.NodeCount, s.BestSize, s.BestDepth, s.Unprocessed,
		s.CollapsedTime.Round(time.Millisecond), s.Elapsed.Round(time.Millisecond), status)
}
