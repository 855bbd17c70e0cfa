// Package sim provides deterministic simulated tables for running the
// coordinator without a real screen. Each extraction advances the
// simulated game one step; the same seed replays the same rounds.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/tablepilot/tablepilot/internal/coordinator"
	"github.com/tablepilot/tablepilot/internal/pattern"
)

// Config holds configuration for a simulation run.
type Config struct {
	Seed               int64
	TimerStart         int     // countdown start, default 15
	CaptureFailureRate float64 // 0..1 probability per capture
	ExtractFailureRate float64 // 0..1 probability per extraction
	ClickFailureRate   float64 // 0..1 probability per click
}

// ClickRecord is one observed click.
type ClickRecord struct {
	TableID  int
	Decision pattern.Side
}

type simTable struct {
	timer int
	blue  int
	red   int
}

// Sim implements the coordinator's capture, extraction and click
// collaborators against an in-memory game per table.
type Sim struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	tables map[int]*simTable
	clicks []ClickRecord
	logger *log.Logger
}

// New creates a simulation with the given configuration.
func New(cfg Config, logger *log.Logger) *Sim {
	if cfg.TimerStart <= 0 {
		cfg.TimerStart = 15
	}
	return &Sim{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		tables: make(map[int]*simTable),
		logger: logger.WithPrefix("sim"),
	}
}

func (s *Sim) table(tableID int) *simTable {
	st, ok := s.tables[tableID]
	if !ok {
		st = &simTable{timer: s.cfg.TimerStart}
		s.tables[tableID] = st
	}
	return st
}

// CaptureRegion implements coordinator.Capturer. The returned frame
// identifies the table; extraction reads the simulated state directly.
func (s *Sim) CaptureRegion(_ context.Context, tableID int) (coordinator.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() < s.cfg.CaptureFailureRate {
		return nil, fmt.Errorf("simulated capture failure on table %d", tableID)
	}
	return coordinator.Frame{byte(tableID)}, nil
}

// ExtractState implements coordinator.Extractor. Each call advances
// the simulated countdown; at zero the round resolves to a random
// winner and the timer resets.
func (s *Sim) ExtractState(_ context.Context, tableID int, _ coordinator.Frame) (coordinator.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() < s.cfg.ExtractFailureRate {
		return coordinator.GameState{}, fmt.Errorf("simulated extraction failure on table %d", tableID)
	}

	st := s.table(tableID)
	st.timer--
	if st.timer < 0 {
		if s.rng.Intn(2) == 0 {
			st.blue++
		} else {
			st.red++
		}
		st.timer = s.cfg.TimerStart
		s.logger.Debug("simulated round resolved",
			"table", tableID, "blue", st.blue, "red", st.red)
	}

	timer, blue, red := st.timer, st.blue, st.red
	return coordinator.GameState{Timer: &timer, BlueScore: &blue, RedScore: &red}, nil
}

// Click implements coordinator.Clicker, recording the action.
func (s *Sim) Click(_ context.Context, tableID int, decision pattern.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() < s.cfg.ClickFailureRate {
		return fmt.Errorf("simulated click failure on table %d", tableID)
	}
	s.clicks = append(s.clicks, ClickRecord{TableID: tableID, Decision: decision})
	s.logger.Debug("simulated click", "table", tableID, "decision", decision.String())
	return nil
}

// Clicks returns a copy of the click log.
func (s *Sim) Clicks() []ClickRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClickRecord, len(s.clicks))
	copy(out, s.clicks)
	return out
}
