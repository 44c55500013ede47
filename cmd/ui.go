package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
)

// progressUI shows export progress on a spinner when stderr is a terminal
// and stays silent otherwise.
type progressUI struct {
	mu  sync.Mutex
	sp  *spinner.Spinner
	out io.Writer
}

func newProgressUI(message string, quiet bool) *progressUI {
	ui := &progressUI{out: os.Stderr}
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return ui
	}
	ui.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	ui.sp.Prefix = "  "
	ui.sp.Suffix = " " + message
	ui.sp.Start()
	return ui
}

// Update is an export.ProgressFunc.
func (ui *progressUI) Update(p export.Progress) {
	if ui.sp == nil {
		return
	}
	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.sp.Suffix = fmt.Sprintf(" %s %d/%d frames, %s", p.Stage, p.Frame, p.Total, formatBytes(p.Bytes))
}

func (ui *progressUI) Success(message string) {
	ui.stop()
	fmt.Fprintf(ui.out, "  %s %s\n", color.GreenString("✓"), message)
}

func (ui *progressUI) Fail(message string) {
	ui.stop()
	fmt.Fprintf(ui.out, "  %s %s\n", color.RedString("✗"), message)
}

func (ui *progressUI) stop() {
	if ui.sp != nil {
		ui.sp.Stop()
		fmt.Fprint(ui.out, "\r\033[K")
	}
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := int64(n) / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
