package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/tablepilot/tablepilot/internal/coordinator"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tableStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	correctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	incorrectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	neutralStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	summaryStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// PrettyMonitor prints one formatted line per round and error, plus a
// boxed summary on shutdown.
type PrettyMonitor struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewPrettyMonitor creates a pretty monitor writing to writer,
// defaulting to stdout.
func NewPrettyMonitor(writer io.Writer) *PrettyMonitor {
	if writer == nil {
		writer = os.Stdout
	}
	return &PrettyMonitor{writer: writer}
}

// OnStart implements EventMonitor.
func (p *PrettyMonitor) OnStart(tableCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, headerStyle.Render(fmt.Sprintf("=== watching %d tables ===", tableCount)))
}

// OnEvent implements EventMonitor.
func (p *PrettyMonitor) OnEvent(e coordinator.Event) {
	switch e.Type {
	case coordinator.EventRoundComplete:
		p.printRound(e)
	case coordinator.EventError:
		p.printError(e)
	}
}

func (p *PrettyMonitor) printRound(e coordinator.Event) {
	round := e.Round
	if round == nil {
		return
	}

	result := neutralStyle.Render("watched")
	switch round.Result {
	case "correct":
		result = correctStyle.Render("correct")
	case "incorrect":
		result = incorrectStyle.Render("incorrect")
	}

	line := fmt.Sprintf("%s round %d: winner=%s", tableStyle.Render(fmt.Sprintf("[table %d]", e.TableID)),
		round.RoundNumber, round.Winner)
	if round.Decision != "none" {
		line += fmt.Sprintf(" decision=%s (%s) %s", round.Decision, round.Pattern, result)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, line)
}

func (p *PrettyMonitor) printError(e coordinator.Event) {
	if e.Error == nil {
		return
	}
	line := fmt.Sprintf("%s %s failure: %s", tableStyle.Render(fmt.Sprintf("[table %d]", e.TableID)),
		e.Error.Category, e.Error.Message)
	if e.Error.Stuck {
		line += " " + errorStyle.Render("STUCK")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, line)
}

// OnStop implements EventMonitor.
func (p *PrettyMonitor) OnStop(summary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, summaryStyle.Render(summary))
}
