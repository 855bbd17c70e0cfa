// Package scheduler computes the global polling delay from the phase
// of every active table. The timer counts down: high values are the
// actionable window, low values the final countdown, zero the result
// phase. Polling speeds up when any table approaches a round boundary
// and slows down when nothing is moving.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tablepilot/tablepilot/internal/session"
)

// Phase classifies a table's position in the round from its timer.
type Phase int

const (
	PhaseCountdown Phase = iota // timer 1..6, final countdown
	PhaseClickable              // timer > 6, actions allowed
	PhaseResult                 // timer unknown or 0, waiting for reset
)

func (p Phase) String() string {
	switch p {
	case PhaseCountdown:
		return "countdown"
	case PhaseClickable:
		return "clickable"
	case PhaseResult:
		return "result"
	default:
		return "unknown"
	}
}

// Classify maps a timer observation to its phase.
func Classify(timerKnown bool, timer int) Phase {
	switch {
	case !timerKnown || timer <= 0:
		return PhaseResult
	case timer <= 6:
		return PhaseCountdown
	default:
		return PhaseClickable
	}
}

// Strategy selects how per-table phases combine into one global delay.
type Strategy int

const (
	// StrategyFastestTimer polls at the most urgent table's rate.
	StrategyFastestTimer Strategy = iota
	// StrategySlowestTimer classifies by the highest timer value.
	StrategySlowestTimer
	// StrategyFixed always uses the normal interval.
	StrategyFixed
	// StrategyMajority uses the phase most tables are in.
	StrategyMajority
	// StrategyPerTable behaves like FastestTimer globally and
	// additionally caches per-table intervals.
	StrategyPerTable
)

func (s Strategy) String() string {
	switch s {
	case StrategyFastestTimer:
		return "fastest"
	case StrategySlowestTimer:
		return "slowest"
	case StrategyFixed:
		return "fixed"
	case StrategyMajority:
		return "majority"
	case StrategyPerTable:
		return "per_table"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a config string to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "fastest", "":
		return StrategyFastestTimer, nil
	case "slowest":
		return StrategySlowestTimer, nil
	case "fixed":
		return StrategyFixed, nil
	case "majority":
		return StrategyMajority, nil
	case "per_table":
		return StrategyPerTable, nil
	default:
		return 0, fmt.Errorf("unknown scheduling strategy %q", name)
	}
}

// Config holds the three interval magnitudes and the active strategy.
type Config struct {
	Fast     time.Duration // countdown phase
	Normal   time.Duration // clickable phase
	Slow     time.Duration // result phase
	Strategy Strategy
}

// DefaultConfig matches the tuning the system was calibrated with.
func DefaultConfig() Config {
	return Config{
		Fast:     100 * time.Millisecond,
		Normal:   200 * time.Millisecond,
		Slow:     time.Second,
		Strategy: StrategyFastestTimer,
	}
}

// ThrottleSource supplies an external resource-pressure multiplier,
// always >= 1.0.
type ThrottleSource interface {
	Factor() float64
}

// Status is a reporting snapshot of the scheduler configuration.
type Status struct {
	Strategy       Strategy
	Fast           time.Duration
	Normal         time.Duration
	Slow           time.Duration
	ThrottleFactor float64
	TableIntervals map[int]time.Duration
}

// Scheduler computes poll delays. Safe for concurrent use.
type Scheduler struct {
	mu       sync.RWMutex
	cfg      Config
	throttle ThrottleSource
	perTable map[int]time.Duration
	logger   *log.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithThrottle attaches a resource-pressure source whose factor is
// applied multiplicatively to every computed interval.
func WithThrottle(src ThrottleSource) Option {
	return func(s *Scheduler) { s.throttle = src }
}

// New creates a scheduler with the given configuration.
func New(logger *log.Logger, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		perTable: make(map[int]time.Duration),
		logger:   logger.WithPrefix("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PhaseInterval returns the configured magnitude for a phase, without
// throttling.
func (s *Scheduler) PhaseInterval(phase Phase) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phaseIntervalLocked(phase)
}

func (s *Scheduler) phaseIntervalLocked(phase Phase) time.Duration {
	switch phase {
	case PhaseCountdown:
		return s.cfg.Fast
	case PhaseClickable:
		return s.cfg.Normal
	default:
		return s.cfg.Slow
	}
}

// ComputeInterval returns the next global poll delay for the given
// table snapshots. Paused, stuck and stopped tables are ignored. The
// throttle factor is applied exactly once, at the end.
func (s *Scheduler) ComputeInterval(tables []session.Snapshot) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := activeTables(tables)
	if len(active) == 0 {
		return s.throttled(s.cfg.Slow)
	}

	known := make([]session.Snapshot, 0, len(active))
	for _, t := range active {
		if t.TimerKnown {
			known = append(known, t)
		}
	}
	if len(known) == 0 {
		return s.throttled(s.cfg.Normal)
	}

	var base time.Duration
	switch s.cfg.Strategy {
	case StrategySlowestTimer:
		base = s.slowestTimerLocked(known)
	case StrategyFixed:
		base = s.cfg.Normal
	case StrategyMajority:
		base = s.majorityLocked(known)
	case StrategyPerTable:
		for _, t := range known {
			phase := Classify(t.TimerKnown, t.Timer)
			s.perTable[t.TableID] = s.throttled(s.phaseIntervalLocked(phase))
		}
		base = s.fastestTimerLocked(known)
	default: // StrategyFastestTimer
		base = s.fastestTimerLocked(known)
	}

	return s.throttled(base)
}

// fastestTimerLocked: if any table is in the final countdown, poll
// fast; else if any is clickable, poll normal; else slow.
func (s *Scheduler) fastestTimerLocked(tables []session.Snapshot) time.Duration {
	anyCountdown, anyClickable := false, false
	for _, t := range tables {
		switch Classify(t.TimerKnown, t.Timer) {
		case PhaseCountdown:
			anyCountdown = true
		case PhaseClickable:
			anyClickable = true
		}
	}
	switch {
	case anyCountdown:
		return s.cfg.Fast
	case anyClickable:
		return s.cfg.Normal
	default:
		return s.cfg.Slow
	}
}

// slowestTimerLocked classifies by the table furthest from completion
// (highest timer value).
func (s *Scheduler) slowestTimerLocked(tables []session.Snapshot) time.Duration {
	maxTimer := tables[0].Timer
	for _, t := range tables[1:] {
		if t.Timer > maxTimer {
			maxTimer = t.Timer
		}
	}
	return s.phaseIntervalLocked(Classify(true, maxTimer))
}

// majorityLocked tallies phases; ties break in the order countdown,
// clickable, result.
func (s *Scheduler) majorityLocked(tables []session.Snapshot) time.Duration {
	var counts [3]int
	for _, t := range tables {
		counts[Classify(t.TimerKnown, t.Timer)]++
	}
	majority := PhaseCountdown
	for _, phase := range []Phase{PhaseCountdown, PhaseClickable, PhaseResult} {
		if counts[phase] > counts[majority] {
			majority = phase
		}
	}
	return s.phaseIntervalLocked(majority)
}

func (s *Scheduler) throttled(d time.Duration) time.Duration {
	if s.throttle == nil {
		return d
	}
	factor := s.throttle.Factor()
	if factor <= 1.0 {
		return d
	}
	return time.Duration(float64(d) * factor)
}

// TableInterval computes, caches and returns the poll interval for a
// single table, for callers using per-table scheduling.
func (s *Scheduler) TableInterval(tableID int, timerKnown bool, timer int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	interval := s.throttled(s.phaseIntervalLocked(Classify(timerKnown, timer)))
	s.perTable[tableID] = interval
	return interval
}

// CachedTableInterval returns the last per-table interval computed for
// the given table.
func (s *Scheduler) CachedTableInterval(tableID int) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.perTable[tableID]
	return d, ok
}

// CaptureSet filters to the tables that should be captured this tick:
// learning or active ones. Paused, stuck and stopped tables are
// skipped to conserve resources.
func CaptureSet(tables []session.Snapshot) []session.Snapshot {
	return activeTables(tables)
}

func activeTables(tables []session.Snapshot) []session.Snapshot {
	out := make([]session.Snapshot, 0, len(tables))
	for _, t := range tables {
		if t.Status == session.StatusLearning || t.Status == session.StatusActive {
			out = append(out, t)
		}
	}
	return out
}

// SetStrategy switches the combining strategy.
func (s *Scheduler) SetStrategy(strategy Strategy) {
	s.mu.Lock()
	s.cfg.Strategy = strategy
	s.mu.Unlock()
	s.logger.Info("strategy changed", "strategy", strategy.String())
}

// SetIntervals replaces the interval magnitudes. Zero values keep the
// existing magnitude.
func (s *Scheduler) SetIntervals(fast, normal, slow time.Duration) {
	s.mu.Lock()
	if fast > 0 {
		s.cfg.Fast = fast
	}
	if normal > 0 {
		s.cfg.Normal = normal
	}
	if slow > 0 {
		s.cfg.Slow = slow
	}
	cfg := s.cfg
	s.mu.Unlock()
	s.logger.Info("intervals updated", "fast", cfg.Fast, "normal", cfg.Normal, "slow", cfg.Slow)
}

// Status returns a reporting snapshot.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	factor := 1.0
	if s.throttle != nil {
		factor = s.throttle.Factor()
	}
	perTable := make(map[int]time.Duration, len(s.perTable))
	for id, d := range s.perTable {
		perTable[id] = d
	}
	return Status{
		Strategy:       s.cfg.Strategy,
		Fast:           s.cfg.Fast,
		Normal:         s.cfg.Normal,
		Slow:           s.cfg.Slow,
		ThrottleFactor: factor,
		TableIntervals: perTable,
	}
}
