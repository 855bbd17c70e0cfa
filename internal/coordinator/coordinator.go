// Package coordinator owns the table registry and the single polling
// loop that drives every table through its capture, extraction,
// decision and click cycle. Tables are processed concurrently within a
// tick; a table's own cycle is always sequential.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/tablepilot/tablepilot/internal/fault"
	"github.com/tablepilot/tablepilot/internal/pattern"
	"github.com/tablepilot/tablepilot/internal/scheduler"
	"github.com/tablepilot/tablepilot/internal/session"
)

// MaxTables is the registration capacity of one coordinator.
const MaxTables = 6

var (
	ErrCapacityExceeded = errors.New("table capacity exceeded")
	ErrDuplicateTable   = errors.New("table already registered")
	ErrUnknownTable     = errors.New("unknown table")
)

// tableHandle pairs a session with its pattern store. The handle mutex
// serializes a table's processing cycle; the sub-objects carry their
// own locks for concurrent readers.
type tableHandle struct {
	mu       sync.Mutex
	session  *session.Session
	patterns *pattern.Store
}

// Coordinator drives all registered tables from one poll loop.
type Coordinator struct {
	logger *log.Logger
	clock  quartz.Clock
	collab Collaborators

	mu     sync.RWMutex // guards tables
	tables map[int]*tableHandle

	sched  *scheduler.Scheduler
	faults *fault.Tracker
	events *EventQueue

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEventBuffer overrides the observer queue capacity.
func WithEventBuffer(n int) Option {
	return func(c *Coordinator) { c.events = NewEventQueue(n) }
}

// New creates a coordinator. Persist may be nil, in which case rounds
// are not persisted.
func New(logger *log.Logger, clock quartz.Clock, collab Collaborators, sched *scheduler.Scheduler, faults *fault.Tracker, opts ...Option) *Coordinator {
	if collab.Persist == nil {
		collab.Persist = NullPersister{}
	}
	c := &Coordinator{
		logger: logger.WithPrefix("coordinator"),
		clock:  clock,
		collab: collab,
		tables: make(map[int]*tableHandle),
		sched:  sched,
		faults: faults,
		events: NewEventQueue(256),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the observer channel. Closed when Run returns.
func (c *Coordinator) Events() <-chan Event {
	return c.events.Events()
}

// CloseEvents closes the observer channel, for callers stepping the
// coordinator with Tick instead of Run. Idempotent.
func (c *Coordinator) CloseEvents() {
	c.events.Close()
}

// AddTable registers a table, optionally with an initial pattern set.
// Fails when the table id is taken or the capacity is reached; an
// invalid pattern text leaves the registry untouched.
func (c *Coordinator) AddTable(tableID int, rules string) error {
	if tableID < 1 {
		return fmt.Errorf("table id must be positive, got %d", tableID)
	}
	// The id space is the capacity: tables are keyed 1..MaxTables.
	if tableID > MaxTables {
		return fmt.Errorf("%w: table id %d outside 1..%d", ErrCapacityExceeded, tableID, MaxTables)
	}

	store := pattern.NewStore()
	if rules != "" {
		if err := store.SetRules(rules); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[tableID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTable, tableID)
	}
	if len(c.tables) >= MaxTables {
		return fmt.Errorf("%w: at most %d tables", ErrCapacityExceeded, MaxTables)
	}

	c.tables[tableID] = &tableHandle{
		session:  session.New(tableID, c.logger, c.clock),
		patterns: store,
	}
	c.logger.Info("table registered", "table", tableID, "rules", store.Len())
	return nil
}

// RemoveTable stops and unregisters a table. Buffered persistence for
// the table is flushed before the handle is discarded.
func (c *Coordinator) RemoveTable(tableID int) error {
	c.mu.Lock()
	h, ok := c.tables[tableID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTable, tableID)
	}
	delete(c.tables, tableID)
	c.mu.Unlock()

	h.mu.Lock()
	h.session.Stop()
	h.mu.Unlock()

	c.collab.Persist.Flush()
	c.faults.Remove(tableID)
	c.logger.Info("table removed", "table", tableID)
	return nil
}

func (c *Coordinator) handle(tableID int) (*tableHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, tableID)
	}
	return h, nil
}

// snapshotTables returns the registered handles keyed by id, without
// holding the registry lock during processing.
func (c *Coordinator) snapshotTables() map[int]*tableHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int]*tableHandle, len(c.tables))
	for id, h := range c.tables {
		out[id] = h
	}
	return out
}

// PauseTable suspends one table.
func (c *Coordinator) PauseTable(tableID int) error {
	h, err := c.handle(tableID)
	if err != nil {
		return err
	}
	h.session.Pause()
	return nil
}

// ResumeTable resumes one table and clears its fault counters, giving
// a stuck table a fresh start.
func (c *Coordinator) ResumeTable(tableID int) error {
	h, err := c.handle(tableID)
	if err != nil {
		return err
	}
	c.faults.ResetAll(tableID)
	h.session.Resume()
	return nil
}

// StopTable moves one table to its terminal state.
func (c *Coordinator) StopTable(tableID int) error {
	h, err := c.handle(tableID)
	if err != nil {
		return err
	}
	h.session.Stop()
	return nil
}

// PauseAll suspends every registered table.
func (c *Coordinator) PauseAll() {
	for _, h := range c.snapshotTables() {
		h.session.Pause()
	}
	c.logger.Info("all tables paused")
}

// ResumeAll resumes every registered table, clearing fault counters.
func (c *Coordinator) ResumeAll() {
	for id, h := range c.snapshotTables() {
		c.faults.ResetAll(id)
		h.session.Resume()
	}
	c.logger.Info("all tables resumed")
}

// StopAll stops every registered table and flushes persistence.
func (c *Coordinator) StopAll() {
	for _, h := range c.snapshotTables() {
		h.session.Stop()
	}
	c.collab.Persist.Flush()
	c.logger.Info("all tables stopped")
}

// SetPatterns atomically replaces a table's rule set. The previous
// rules stay in effect if the new text does not parse. The canonical
// rule text is persisted on success.
func (c *Coordinator) SetPatterns(tableID int, rules string) error {
	h, err := c.handle(tableID)
	if err != nil {
		return err
	}
	if err := h.patterns.SetRules(rules); err != nil {
		return err
	}
	c.collab.Persist.UpdatePatterns(tableID, h.patterns.String())
	c.logger.Info("patterns updated", "table", tableID, "rules", h.patterns.Len())
	return nil
}

// AddPattern appends one rule to a table's set.
func (c *Coordinator) AddPattern(tableID int, history, decision string) error {
	h, err := c.handle(tableID)
	if err != nil {
		return err
	}
	if err := h.patterns.AddRule(history, decision); err != nil {
		return err
	}
	c.collab.Persist.UpdatePatterns(tableID, h.patterns.String())
	return nil
}

// RemovePattern removes the first rule matching the history.
func (c *Coordinator) RemovePattern(tableID int, history string) error {
	h, err := c.handle(tableID)
	if err != nil {
		return err
	}
	if !h.patterns.RemoveRule(history) {
		return fmt.Errorf("no rule for history %q", history)
	}
	c.collab.Persist.UpdatePatterns(tableID, h.patterns.String())
	return nil
}

// Patterns returns a table's current rule set.
func (c *Coordinator) Patterns(tableID int) ([]pattern.Rule, error) {
	h, err := c.handle(tableID)
	if err != nil {
		return nil, err
	}
	return h.patterns.Rules(), nil
}

// Statistics returns one table's statistics snapshot.
func (c *Coordinator) Statistics(tableID int) (session.Stats, error) {
	h, err := c.handle(tableID)
	if err != nil {
		return session.Stats{}, err
	}
	return h.session.Statistics(), nil
}

// AllStatistics returns every table's statistics, ordered by table id.
func (c *Coordinator) AllStatistics() []session.Stats {
	tables := c.snapshotTables()
	out := make([]session.Stats, 0, len(tables))
	for _, h := range tables {
		out = append(out, h.session.Statistics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableID < out[j].TableID })
	return out
}

// FaultState returns one table's failure counters.
func (c *Coordinator) FaultState(tableID int) (fault.State, error) {
	if _, err := c.handle(tableID); err != nil {
		return fault.State{}, err
	}
	return c.faults.State(tableID), nil
}

// CompletedRounds returns a table's full round log, for export.
func (c *Coordinator) CompletedRounds(tableID int) ([]session.Outcome, error) {
	h, err := c.handle(tableID)
	if err != nil {
		return nil, err
	}
	return h.session.CompletedRounds(), nil
}

// Snapshots returns scheduler snapshots for every registered table,
// ordered by table id.
func (c *Coordinator) Snapshots() []session.Snapshot {
	tables := c.snapshotTables()
	out := make([]session.Snapshot, 0, len(tables))
	for _, h := range tables {
		out = append(out, h.session.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableID < out[j].TableID })
	return out
}

// Run executes the poll loop until the context is cancelled or Stop is
// called. The observer channel is closed on return.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.events.Close()
	c.logger.Info("poll loop started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poll loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("poll loop stopped", "reason", "stop requested")
			return nil
		default:
		}

		c.Tick(ctx)

		interval := c.sched.ComputeInterval(c.Snapshots())
		timer := c.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("poll loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-c.stopCh:
			timer.Stop()
			c.logger.Info("poll loop stopped", "reason", "stop requested")
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one full cycle over the eligible tables, concurrently.
// Exposed so tests and the simulator can step the coordinator without
// the timing loop.
func (c *Coordinator) Tick(ctx context.Context) {
	tables := c.snapshotTables()

	g, gctx := errgroup.WithContext(ctx)
	for id, h := range tables {
		if !h.session.Eligible() {
			continue
		}
		id, h := id, h
		g.Go(func() error {
			c.processTable(gctx, id, h)
			return nil
		})
	}
	// Workers never return errors; failures are routed through the
	// fault tracker per table.
	_ = g.Wait()
}

// Stop requests loop shutdown. Idempotent and safe from any goroutine.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.collab.Persist.Flush()
	})
}
