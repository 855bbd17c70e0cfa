package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tablepilot/tablepilot/internal/coordinator"
)

const (
	dotGreen = "\033[32m●\033[0m" // correct decision
	dotRed   = "\033[31m●\033[0m" // incorrect decision
	dotGray  = "\033[90m●\033[0m" // round without a decision
	markErr  = "\033[31mx\033[0m" // failure
)

// DotsMonitor prints one colored dot per completed round for minimal
// progress output across many tables.
type DotsMonitor struct {
	writer    io.Writer
	mu        sync.Mutex
	dotCount  int
	lineWidth int
}

// NewDotsMonitor creates a dots monitor writing to writer, defaulting
// to stdout.
func NewDotsMonitor(writer io.Writer) *DotsMonitor {
	if writer == nil {
		writer = os.Stdout
	}
	return &DotsMonitor{writer: writer, lineWidth: 80}
}

// OnStart implements EventMonitor.
func (d *DotsMonitor) OnStart(tableCount int) {
	fmt.Fprintf(d.writer, "watching %d tables\n", tableCount)
}

// OnEvent implements EventMonitor.
func (d *DotsMonitor) OnEvent(e coordinator.Event) {
	switch e.Type {
	case coordinator.EventRoundComplete:
		d.print(d.selectDot(e.Round))
	case coordinator.EventError:
		d.print(markErr)
	}
}

// OnStop implements EventMonitor.
func (d *DotsMonitor) OnStop(summary string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dotCount > 0 {
		fmt.Fprintln(d.writer)
		d.dotCount = 0
	}
	fmt.Fprintf(d.writer, "\n%s", summary)
}

func (d *DotsMonitor) print(mark string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.writer, mark)
	d.dotCount++
	if d.dotCount >= d.lineWidth {
		fmt.Fprintln(d.writer)
		d.dotCount = 0
	}
}

func (d *DotsMonitor) selectDot(round *coordinator.RoundPayload) string {
	if round == nil {
		return dotGray
	}
	switch round.Result {
	case "correct":
		return dotGreen
	case "incorrect":
		return dotRed
	default:
		return dotGray
	}
}
