// Package console draws the per-video download indicator.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const barWidth = 30

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Bar renders a single-line progress indicator for one video, redrawn in
// place with a carriage return.
type Bar struct {
	out     io.Writer
	videoID string
	model   progress.Model
	enabled bool

	mu      sync.Mutex
	lastLen int
	drawn   bool
}

// NewBar creates a Bar writing to out. A disabled Bar draws nothing.
func NewBar(out io.Writer, videoID string, enabled bool) *Bar {
	return &Bar{
		out:     out,
		videoID: videoID,
		model:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
		enabled: enabled,
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Render formats the indicator line.
func (b *Bar) Render(done, total, skipped int, bytesPerSec float64) string {
	percent := 0.0
	if total > 0 {
		percent = float64(done) / float64(total)
	}
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}

	return fmt.Sprintf("%s %s %d/%d | %s/s | %s",
		labelStyle.Render("[Video:"+b.videoID+"]"),
		b.model.ViewAs(percent),
		done, total,
		humanize.Bytes(uint64(bytesPerSec)),
		dimStyle.Render(fmt.Sprintf("skipped:%d", skipped)),
	)
}

// Update redraws the indicator.
func (b *Bar) Update(done, total, skipped int, bytesPerSec float64) {
	if !b.enabled {
		return
	}
	line := b.Render(done, total, skipped, bytesPerSec)

	b.mu.Lock()
	defer b.mu.Unlock()

	pad := ""
	if n := lipgloss.Width(line); n < b.lastLen {
		pad = strings.Repeat(" ", b.lastLen-n)
	}
	b.lastLen = lipgloss.Width(line)
	b.drawn = true
	fmt.Fprint(b.out, "\r"+line+pad)
}

// Finish ends the indicator line.
func (b *Bar) Finish() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drawn {
		fmt.Fprintln(b.out)
		b.drawn = false
	}
}
