package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/wesm/mailtracker/internal/sync"
	"github.com/wesm/mailtracker/internal/tui"
)

// CLIProgress implements sync.ProgressWithDate for terminal output. On a
// terminal the progress line is redrawn in place; otherwise each update is
// a new line.
type CLIProgress struct {
	out        io.Writer
	tty        bool
	interval   time.Duration
	startTime  time.Time
	lastPrint  time.Time
	latestDate time.Time
	printed    bool
	// Cache latest stats for combined display
	found   int64
	added   int64
	skipped int64
}

// NewCLIProgress writes progress to w.
func NewCLIProgress(w io.Writer) *CLIProgress {
	p := &CLIProgress{out: w, interval: 2 * time.Second}
	if f, ok := w.(*os.File); ok {
		p.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

func (p *CLIProgress) init() {
	if p.out == nil {
		p.out = os.Stdout
	}
	if p.startTime.IsZero() {
		now := time.Now()
		p.startTime = now
		p.lastPrint = now
	}
}

func (p *CLIProgress) OnStart(since *time.Time) {
	p.init()
	now := time.Now()
	p.startTime = now
	p.lastPrint = now
	if since == nil {
		fmt.Fprintln(p.out, "First run: fetching all messages")
	} else {
		fmt.Fprintf(p.out, "Fetching messages received since %s\n", since.Local().Format("2006-01-02 15:04:05"))
	}
}

func (p *CLIProgress) OnProgress(found, added, skipped int64) {
	p.init()
	p.found = found
	p.added = added
	p.skipped = skipped
	p.printProgress()
}

func (p *CLIProgress) OnLatestDate(date time.Time) {
	p.init()
	p.latestDate = date
	p.printProgress()
}

func (p *CLIProgress) printProgress() {
	// Throttle output
	if time.Since(p.lastPrint) < p.interval {
		return
	}
	p.lastPrint = time.Now()

	dateStr := ""
	if !p.latestDate.IsZero() {
		dateStr = fmt.Sprintf(" | Latest: %s", p.latestDate.Local().Format("2006-01-02"))
	}
	line := fmt.Sprintf("  Scanned: %d | Added: %d | Skipped: %d | Elapsed: %s%s",
		p.found, p.added, p.skipped, tui.FormatDuration(time.Since(p.startTime)), dateStr)

	if p.tty {
		fmt.Fprintf(p.out, "\r%s    ", line)
		p.printed = true
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *CLIProgress) OnComplete(summary *sync.Summary) {
	p.init()
	if p.printed {
		fmt.Fprintln(p.out) // Clear the progress line
		p.printed = false
	}
}

func (p *CLIProgress) OnError(err error) {
	p.init()
	if p.printed {
		fmt.Fprintln(p.out)
		p.printed = false
	}
}

var _ sync.ProgressWithDate = (*CLIProgress)(nil)
