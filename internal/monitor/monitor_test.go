package monitor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablepilot/tablepilot/internal/coordinator"
)

func roundEvent(tableID int, result string) coordinator.Event {
	return coordinator.Event{
		Type:    coordinator.EventRoundComplete,
		TableID: tableID,
		Round: &coordinator.RoundPayload{
			RoundNumber: 1,
			Winner:      "side1",
			Decision:    "side1",
			Pattern:     "AAB-A",
			Result:      result,
		},
	}
}

type countingMonitor struct {
	starts, events, stops int
}

func (c *countingMonitor) OnStart(int)               { c.starts++ }
func (c *countingMonitor) OnEvent(coordinator.Event) { c.events++ }
func (c *countingMonitor) OnStop(string)             { c.stops++ }

func TestMultiMonitorFansOut(t *testing.T) {
	a, b := &countingMonitor{}, &countingMonitor{}
	m := NewMultiEventMonitor(a, nil, b)

	m.OnStart(2)
	m.OnEvent(roundEvent(1, "correct"))
	m.OnStop("done")

	assert.Equal(t, 1, a.starts)
	assert.Equal(t, 1, b.events)
	assert.Equal(t, 1, a.stops)
}

func TestMultiMonitorEmpty(t *testing.T) {
	m := NewMultiEventMonitor(nil, nil)
	assert.IsType(t, NullEventMonitor{}, m)

	single := &countingMonitor{}
	assert.Equal(t, single, NewMultiEventMonitor(single), "single monitor is returned unwrapped")
}

func TestDotsMonitorOutput(t *testing.T) {
	var buf bytes.Buffer
	d := NewDotsMonitor(&buf)

	d.OnStart(3)
	d.OnEvent(roundEvent(1, "correct"))
	d.OnEvent(roundEvent(1, "incorrect"))
	d.OnEvent(roundEvent(1, "none"))
	d.OnEvent(coordinator.Event{Type: coordinator.EventStatus, TableID: 1})
	d.OnEvent(coordinator.Event{
		Type:    coordinator.EventError,
		TableID: 1,
		Error:   &coordinator.ErrorPayload{Category: "capture", Message: "boom"},
	})
	d.OnStop("table 1: done\n")

	out := buf.String()
	assert.Contains(t, out, "watching 3 tables")
	assert.Equal(t, 1, strings.Count(out, dotGreen))
	assert.Equal(t, 1, strings.Count(out, dotRed))
	assert.Equal(t, 1, strings.Count(out, dotGray), "status events print nothing")
	assert.Equal(t, 1, strings.Count(out, markErr))
	assert.Contains(t, out, "table 1: done")
}

func TestDotsMonitorLineWrap(t *testing.T) {
	var buf bytes.Buffer
	d := NewDotsMonitor(&buf)
	d.lineWidth = 5

	for i := 0; i < 7; i++ {
		d.OnEvent(roundEvent(1, "correct"))
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestPrettyMonitorOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrettyMonitor(&buf)

	p.OnStart(1)
	p.OnEvent(roundEvent(2, "correct"))
	p.OnEvent(coordinator.Event{
		Type:    coordinator.EventError,
		TableID: 2,
		Error:   &coordinator.ErrorPayload{Category: "extraction", Message: "timer not readable", Stuck: true},
	})
	p.OnStop("summary here")

	out := buf.String()
	assert.Contains(t, out, "watching 1 tables")
	assert.Contains(t, out, "round 1: winner=side1")
	assert.Contains(t, out, "decision=side1 (AAB-A)")
	assert.Contains(t, out, "extraction failure: timer not readable")
	assert.Contains(t, out, "STUCK")
	assert.Contains(t, out, "summary here")
}

func TestPrettyMonitorSkipsDecisionlessDetail(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrettyMonitor(&buf)

	e := roundEvent(1, "none")
	e.Round.Decision = "none"
	e.Round.Pattern = ""
	p.OnEvent(e)

	assert.NotContains(t, buf.String(), "decision=")
}
