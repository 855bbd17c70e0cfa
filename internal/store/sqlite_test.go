package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepilot/tablepilot/internal/pattern"
	"github.com/tablepilot/tablepilot/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func outcome(round int, winner byte) session.Outcome {
	return session.Outcome{
		RoundNumber:  round,
		Timestamp:    time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		TimerAtStart: 15,
		BlueScore:    2,
		RedScore:     1,
		Winner:       winner,
		Decision:     pattern.Side2,
		Result:       session.ResultCorrect,
	}
}

func TestAppendAndReadRounds(t *testing.T) {
	s := openTestStore(t)

	s.AppendRound(1, outcome(1, pattern.SymbolA))
	s.AppendRound(1, outcome(2, pattern.SymbolB))
	s.AppendRound(2, outcome(1, pattern.SymbolB))
	s.Flush()

	rounds, err := s.Rounds(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 1, rounds[0].RoundNumber)
	assert.Equal(t, "A", rounds[0].Winner)
	assert.Equal(t, "side2", rounds[0].Decision)
	assert.Equal(t, "correct", rounds[0].Result)
	assert.Equal(t, time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC), rounds[0].RecordedAt)

	rounds, err = s.Rounds(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

func TestPatternsUpsert(t *testing.T) {
	s := openTestStore(t)

	s.UpdatePatterns(1, "AAB-B")
	s.UpdatePatterns(1, "AAB-B;BBA-A")
	s.Flush()

	rules, err := s.Patterns(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "AAB-B;BBA-A", rules)

	rules, err = s.Patterns(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, rules, "unknown table reads as empty")
}

func TestCloseDrainsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drain.db")
	s, err := Open(path, log.New(io.Discard))
	require.NoError(t, err)

	for i := 1; i <= 50; i++ {
		s.AppendRound(1, outcome(i, pattern.SymbolA))
	}
	require.NoError(t, s.Close())

	// Everything queued before Close landed on disk.
	s2, err := Open(path, log.New(io.Discard))
	require.NoError(t, err)
	defer s2.Close()

	rounds, err := s2.Rounds(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, rounds, 50)
}

// A stalled writer must never back-pressure the poll loop: with the
// queue full, round and pattern writes drop immediately instead of
// blocking the caller.
func TestFullQueueDoesNotBlockWrites(t *testing.T) {
	// No writer goroutine and a one-slot queue, so the second write
	// finds the queue full.
	s := &Store{
		logger: log.New(io.Discard),
		jobs:   make(chan job, 1),
		done:   make(chan struct{}),
	}

	s.AppendRound(1, outcome(1, pattern.SymbolA))

	done := make(chan struct{})
	go func() {
		s.AppendRound(1, outcome(2, pattern.SymbolA))
		s.UpdatePatterns(1, "AAB-B")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("write against a full queue blocked")
	}
	assert.Len(t, s.jobs, 1, "overflow writes were dropped, not queued")
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "closed.db"), log.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// None of these may panic or block.
	s.AppendRound(1, outcome(1, pattern.SymbolA))
	s.UpdatePatterns(1, "AAB-B")
	s.Flush()
	require.NoError(t, s.Close(), "double close is a no-op")
}
