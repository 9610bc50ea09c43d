package engine

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	progressPassStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	progressFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Progress renders a single-line completion counter. It is advisory
// output: when the writer is not a terminal (CI, piped output) it
// stays silent and only tracks the counters.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool

	total  int
	done   int
	passed int
	failed int
}

// NewProgress creates a progress display over out for total instances.
func NewProgress(out io.Writer, total int) *Progress {
	enabled := false
	if file, ok := out.(*os.File); ok {
		enabled = term.IsTerminal(int(file.Fd()))
	}
	return &Progress{out: out, total: total, enabled: enabled}
}

// Advance records one finished instance and repaints the line.
func (p *Progress) Advance(result InstanceResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	switch {
	case result.Cancelled:
	case result.Passed:
		p.passed++
	default:
		p.failed++
	}
	if !p.enabled {
		return
	}
	fmt.Fprintf(p.out, "\r%d/%d instances  %s  %s",
		p.done, p.total,
		progressPassStyle.Render(fmt.Sprintf("%d passed", p.passed)),
		progressFailStyle.Render(fmt.Sprintf("%d failed", p.failed)))
}

// Finish terminates the progress line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		fmt.Fprintln(p.out)
	}
}
