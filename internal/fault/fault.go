// Package fault tracks per-table failure counters with bounded
// retry/backoff. Three failure categories are counted independently;
// enough consecutive failures in one category produce a stuck signal
// that the caller applies to the table. The tracker never mutates
// table state itself.
package fault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// Category is one of the independently-counted failure kinds.
type Category int

const (
	CategoryCapture Category = iota
	CategoryExtraction
	CategoryClick
)

func (c Category) String() string {
	switch c {
	case CategoryCapture:
		return "capture"
	case CategoryExtraction:
		return "extraction"
	case CategoryClick:
		return "click"
	default:
		return "unknown"
	}
}

// DefaultStuckThreshold is the consecutive same-category failure count
// that triggers the stuck signal.
const DefaultStuckThreshold = 3

// DefaultRetryDelays is the backoff schedule for RetryWithBackoff. The
// schedule length is the attempt count; the last delay is never slept.
var DefaultRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// State is a snapshot of a table's failure counters.
type State struct {
	CaptureFailures    int
	ExtractionFailures int
	ClickFailures      int
	TotalErrors        int
	LastErrorTime      time.Time
	LastErrorMessage   string
	Stuck              bool
}

type tableState struct {
	counts    [3]int
	total     int
	lastTime  time.Time
	lastMsg   string
	stuck     bool
}

// Tracker holds fault state for all registered tables.
type Tracker struct {
	mu             sync.Mutex
	tables         map[int]*tableState
	stuckThreshold int
	retryDelays    []time.Duration
	clock          quartz.Clock
	logger         *log.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStuckThreshold overrides the consecutive-failure count that
// triggers the stuck signal.
func WithStuckThreshold(n int) Option {
	return func(t *Tracker) { t.stuckThreshold = n }
}

// WithRetryDelays overrides the backoff schedule. The schedule length
// is the attempt count.
func WithRetryDelays(delays []time.Duration) Option {
	return func(t *Tracker) { t.retryDelays = delays }
}

// NewTracker creates a tracker with the default threshold and backoff
// schedule.
func NewTracker(logger *log.Logger, clock quartz.Clock, opts ...Option) *Tracker {
	t := &Tracker{
		tables:         make(map[int]*tableState),
		stuckThreshold: DefaultStuckThreshold,
		retryDelays:    DefaultRetryDelays,
		clock:          clock,
		logger:         logger.WithPrefix("fault"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) state(tableID int) *tableState {
	ts, ok := t.tables[tableID]
	if !ok {
		ts = &tableState{}
		t.tables[tableID] = ts
	}
	return ts
}

// Report records a failure in the given category and returns true when
// the category's consecutive-failure count has reached the stuck
// threshold. The caller is responsible for marking the table stuck.
func (t *Tracker) Report(tableID int, category Category, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.state(tableID)
	ts.counts[category]++
	ts.total++
	ts.lastTime = t.clock.Now()
	ts.lastMsg = message

	count := ts.counts[category]
	t.logger.Warn("failure reported",
		"table", tableID,
		"category", category.String(),
		"count", count,
		"threshold", t.stuckThreshold,
		"message", message)

	if count >= t.stuckThreshold {
		ts.stuck = true
		t.logger.Error("stuck threshold reached",
			"table", tableID, "category", category.String())
		return true
	}
	return false
}

// ResetCategory clears one category's counter, called when the
// corresponding operation succeeds.
func (t *Tracker) ResetCategory(tableID int, category Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.tables[tableID]; ok {
		ts.counts[category] = 0
	}
}

// ResetAll clears every counter and the stuck flag, used on manual
// resume.
func (t *Tracker) ResetAll(tableID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tables[tableID] = &tableState{}
	t.logger.Info("fault counters reset", "table", tableID)
}

// Remove discards all state for an unregistered table.
func (t *Tracker) Remove(tableID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tables, tableID)
}

// IsStuck reports whether the table has hit the stuck threshold since
// its last reset.
func (t *Tracker) IsStuck(tableID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.tables[tableID]
	return ok && ts.stuck
}

// State returns a snapshot of a table's failure counters.
func (t *Tracker) State(tableID int) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.tables[tableID]
	if !ok {
		return State{}
	}
	return State{
		CaptureFailures:    ts.counts[CategoryCapture],
		ExtractionFailures: ts.counts[CategoryExtraction],
		ClickFailures:      ts.counts[CategoryClick],
		TotalErrors:        ts.total,
		LastErrorTime:      ts.lastTime,
		LastErrorMessage:   ts.lastMsg,
		Stuck:              ts.stuck,
	}
}

// RetryWithBackoff invokes op up to once per schedule entry, sleeping
// the corresponding delay between attempts (not after the last). It
// returns nil on the first success. Counters are not touched here;
// fault accounting stays with the capture/extract/click call sites so
// the backoff primitive stays reusable.
func (t *Tracker) RetryWithBackoff(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	attempts := len(t.retryDelays)

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			t.logger.Debug("operation succeeded", "op", name, "attempt", attempt)
			return nil
		}

		t.logger.Warn("operation failed",
			"op", name, "attempt", attempt, "max_attempts", attempts, "error", lastErr)

		if attempt == attempts {
			break
		}

		delay := t.retryDelays[attempt-1]
		timer := t.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	t.logger.Error("operation exhausted retries", "op", name, "attempts", attempts, "error", lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// ArtifactName builds the deterministic file name for the diagnostic
// screenshot requested on every reported failure. Saving the file is
// the capture collaborator's job.
func ArtifactName(tableID int, category Category, ts time.Time) string {
	return fmt.Sprintf("error_%d_%s_%s.png", tableID, category, ts.Format("20060102_150405"))
}
