// Package resource supplies throttle factors for the scheduler from
// system load. A factor of 1.0 means no throttling; higher values
// stretch every polling interval multiplicatively.
package resource

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// Static is a fixed throttle factor, clamped to >= 1.0.
type Static float64

// Factor implements scheduler.ThrottleSource.
func (s Static) Factor() float64 {
	if s < 1.0 {
		return 1.0
	}
	return float64(s)
}

const defaultLoadAvgPath = "/proc/loadavg"

// Thresholds on per-CPU one-minute load, mirroring the calibrated
// CPU-percent cutoffs: below 80% no throttling, 80-90% poll half
// again as slowly, above 90% twice as slowly.
const (
	throttleThreshold = 0.80
	heavyThreshold    = 0.90
)

// LoadAverage derives a throttle factor from the one-minute load
// average divided by the CPU count. On platforms or errors where the
// load cannot be read it reports 1.0, never blocking the poll loop.
type LoadAverage struct {
	mu   sync.Mutex
	path string
	cpus int
	last float64
}

// NewLoadAverage creates a load-based throttle source.
func NewLoadAverage() *LoadAverage {
	return &LoadAverage{path: defaultLoadAvgPath, cpus: runtime.NumCPU()}
}

// Factor implements scheduler.ThrottleSource.
func (l *LoadAverage) Factor() float64 {
	load, ok := l.read()
	if !ok {
		return 1.0
	}

	l.mu.Lock()
	l.last = load
	l.mu.Unlock()

	perCPU := load / float64(l.cpus)
	switch {
	case perCPU <= throttleThreshold:
		return 1.0
	case perCPU <= heavyThreshold:
		return 1.5
	default:
		return 2.0
	}
}

// Last returns the most recent load reading, for status reporting.
func (l *LoadAverage) Last() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *LoadAverage) read() (float64, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return load, true
}
