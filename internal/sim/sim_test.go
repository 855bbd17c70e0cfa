package sim

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepilot/tablepilot/internal/coordinator"
	"github.com/tablepilot/tablepilot/internal/fault"
	"github.com/tablepilot/tablepilot/internal/pattern"
	"github.com/tablepilot/tablepilot/internal/scheduler"
)

func newSim(t *testing.T, cfg Config) *Sim {
	t.Helper()
	return New(cfg, log.New(io.Discard))
}

func TestCountdownAndRoundResolution(t *testing.T) {
	s := newSim(t, Config{Seed: 1, TimerStart: 3})
	ctx := context.Background()

	timers := []int{}
	for i := 0; i < 8; i++ {
		state, err := s.ExtractState(ctx, 1, nil)
		require.NoError(t, err)
		require.NotNil(t, state.Timer)
		timers = append(timers, *state.Timer)
	}

	// 3,2,1,0 then a reset back to 3 with exactly one score bump.
	assert.Equal(t, []int{2, 1, 0, 3, 2, 1, 0, 3}, timers)

	state, err := s.ExtractState(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, *state.BlueScore+*state.RedScore, "two rounds resolved")
}

func TestDeterministicReplay(t *testing.T) {
	ctx := context.Background()
	run := func() []int {
		s := newSim(t, Config{Seed: 42, TimerStart: 2})
		var scores []int
		for i := 0; i < 20; i++ {
			state, err := s.ExtractState(ctx, 1, nil)
			require.NoError(t, err)
			scores = append(scores, *state.BlueScore, *state.RedScore)
		}
		return scores
	}
	assert.Equal(t, run(), run())
}

func TestFailureInjection(t *testing.T) {
	s := newSim(t, Config{Seed: 7, CaptureFailureRate: 1.0})
	_, err := s.CaptureRegion(context.Background(), 1)
	assert.Error(t, err)

	s = newSim(t, Config{Seed: 7, ExtractFailureRate: 1.0})
	_, err = s.ExtractState(context.Background(), 1, nil)
	assert.Error(t, err)

	s = newSim(t, Config{Seed: 7, ClickFailureRate: 1.0})
	assert.Error(t, s.Click(context.Background(), 1, pattern.Side1))
	assert.Empty(t, s.Clicks())
}

func TestClickLog(t *testing.T) {
	s := newSim(t, Config{Seed: 7})
	require.NoError(t, s.Click(context.Background(), 2, pattern.Side2))
	clicks := s.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, ClickRecord{TableID: 2, Decision: pattern.Side2}, clicks[0])
}

// Drives the real coordinator against the simulation end to end.
func TestCoordinatorIntegration(t *testing.T) {
	logger := log.New(io.Discard)
	clock := quartz.NewReal()
	s := newSim(t, Config{Seed: 11, TimerStart: 15})

	coord := coordinator.New(logger, clock, coordinator.Collaborators{
		Capture: s,
		Extract: s,
		Click:   s,
	},
		scheduler.New(logger, scheduler.DefaultConfig()),
		fault.NewTracker(logger, clock),
	)
	require.NoError(t, coord.AddTable(1, "AAA-A;AAB-B;ABA-A;ABB-B;BAA-A;BAB-B;BBA-A;BBB-B"))

	ctx := context.Background()
	for i := 0; i < 200; i++ {
		coord.Tick(ctx)
	}

	stats, err := coord.Statistics(1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalRounds, 10, "rounds resolve as the countdown cycles")
	assert.Greater(t, stats.TotalDecisions, 0, "a full rule set always matches after learning")

	// Every resolved decision was clicked; at most one more click is
	// still pending against the next round.
	clicks := len(s.Clicks())
	assert.GreaterOrEqual(t, clicks, stats.TotalDecisions)
	assert.LessOrEqual(t, clicks, stats.TotalDecisions+1)
}
