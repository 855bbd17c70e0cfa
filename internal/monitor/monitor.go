// Package monitor renders coordinator events for a human operator.
package monitor

import "github.com/tablepilot/tablepilot/internal/coordinator"

// EventMonitor receives notifications about table progress.
type EventMonitor interface {
	// OnStart is called once before the poll loop begins.
	OnStart(tableCount int)

	// OnEvent is called for every coordinator event.
	OnEvent(e coordinator.Event)

	// OnStop is called once after the poll loop ends, with the final
	// statistics summary.
	OnStop(summary string)
}

// NullEventMonitor is a no-op implementation.
type NullEventMonitor struct{}

func (NullEventMonitor) OnStart(int)               {}
func (NullEventMonitor) OnEvent(coordinator.Event) {}
func (NullEventMonitor) OnStop(string)             {}

// MultiEventMonitor fans events out to multiple monitors.
type MultiEventMonitor struct {
	monitors []EventMonitor
}

// NewMultiEventMonitor builds a composite monitor, pruning nil entries
// and returning a NullEventMonitor when none remain.
func NewMultiEventMonitor(monitors ...EventMonitor) EventMonitor {
	filtered := make([]EventMonitor, 0, len(monitors))
	for _, m := range monitors {
		if m != nil {
			filtered = append(filtered, m)
		}
	}

	switch len(filtered) {
	case 0:
		return NullEventMonitor{}
	case 1:
		return filtered[0]
	default:
		return MultiEventMonitor{monitors: filtered}
	}
}

func (m MultiEventMonitor) OnStart(tableCount int) {
	for _, monitor := range m.monitors {
		monitor.OnStart(tableCount)
	}
}

func (m MultiEventMonitor) OnEvent(e coordinator.Event) {
	for _, monitor := range m.monitors {
		monitor.OnEvent(e)
	}
}

func (m MultiEventMonitor) OnStop(summary string) {
	for _, monitor := range m.monitors {
		monitor.OnStop(summary)
	}
}
