package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const (
	defaultWidth  = 40
	refreshPeriod = 100 * time.Millisecond
)

// Bar draws a Simulator's value on a terminal line
type Bar struct {
	sim   *Simulator
	out   io.Writer
	width int
}

// NewBar creates a Bar on out. The second return is false when out is not an
// interactive terminal, in which case nothing should be drawn.
func NewBar(sim *Simulator, out *os.File) (*Bar, bool) {
	fd := out.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil, false
	}
	width := defaultWidth
	if cols, _, err := term.GetSize(int(fd)); err == nil && cols > 20 {
		width = min(cols-12, 60)
	}
	return &Bar{sim: sim, out: out, width: width}, true
}

// NewBarWithWriter creates a Bar on any writer with a fixed width
func NewBarWithWriter(sim *Simulator, out io.Writer, width int) *Bar {
	if width <= 0 {
		width = defaultWidth
	}
	return &Bar{sim: sim, out: out, width: width}
}

// Run redraws until ctx is done, then clears the line
func (b *Bar) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(b.out, "\r"+strings.Repeat(" ", b.width+10)+"\r")
			return
		case <-ticker.C:
			fmt.Fprint(b.out, b.Render())
		}
	}
}

// Render returns the current frame
func (b *Bar) Render() string {
	value := b.sim.Value()
	filled := int(value / Full * float64(b.width))
	filled = max(0, min(filled, b.width))
	return fmt.Sprintf("\r[%s%s] %3.0f%%", strings.Repeat("=", filled), strings.Repeat(" ", b.width-filled), value)
}
