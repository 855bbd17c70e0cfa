package fault

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(opts ...Option) *Tracker {
	return NewTracker(log.New(io.Discard), quartz.NewReal(), opts...)
}

func TestReportStuckAfterThreshold(t *testing.T) {
	tr := newTestTracker()

	assert.False(t, tr.Report(1, CategoryCapture, "capture failed"))
	assert.False(t, tr.Report(1, CategoryCapture, "capture failed"))
	assert.True(t, tr.Report(1, CategoryCapture, "capture failed"))
	assert.True(t, tr.IsStuck(1))

	state := tr.State(1)
	assert.Equal(t, 3, state.CaptureFailures)
	assert.Equal(t, 3, state.TotalErrors)
	assert.Equal(t, "capture failed", state.LastErrorMessage)
	assert.True(t, state.Stuck)
}

func TestCategoriesCountedIndependently(t *testing.T) {
	tr := newTestTracker()

	// Two failures in each category: no single category hits three.
	for _, cat := range []Category{CategoryCapture, CategoryExtraction, CategoryClick} {
		assert.False(t, tr.Report(1, cat, "fail"))
		assert.False(t, tr.Report(1, cat, "fail"))
	}
	assert.False(t, tr.IsStuck(1))

	state := tr.State(1)
	assert.Equal(t, 6, state.TotalErrors)
	assert.Equal(t, 2, state.CaptureFailures)
	assert.Equal(t, 2, state.ExtractionFailures)
	assert.Equal(t, 2, state.ClickFailures)
}

func TestResetCategoryClearsCounter(t *testing.T) {
	tr := newTestTracker()

	tr.Report(1, CategoryExtraction, "fail")
	tr.Report(1, CategoryExtraction, "fail")
	tr.ResetCategory(1, CategoryExtraction)

	// Counting starts over after a success.
	assert.False(t, tr.Report(1, CategoryExtraction, "fail"))
	assert.False(t, tr.Report(1, CategoryExtraction, "fail"))
	assert.True(t, tr.Report(1, CategoryExtraction, "fail"))
}

func TestResetAllClearsStuck(t *testing.T) {
	tr := newTestTracker()

	for range 3 {
		tr.Report(2, CategoryClick, "fail")
	}
	require.True(t, tr.IsStuck(2))

	tr.ResetAll(2)
	assert.False(t, tr.IsStuck(2))
	assert.Equal(t, State{}, tr.State(2))
}

func TestTablesIsolated(t *testing.T) {
	tr := newTestTracker()

	for range 3 {
		tr.Report(1, CategoryCapture, "fail")
	}
	assert.True(t, tr.IsStuck(1))
	assert.False(t, tr.IsStuck(2))
	assert.Equal(t, State{}, tr.State(2))
}

func TestCustomThreshold(t *testing.T) {
	tr := newTestTracker(WithStuckThreshold(1))
	assert.True(t, tr.Report(1, CategoryCapture, "fail"))
}

func TestRetryWithBackoffFirstSuccess(t *testing.T) {
	tr := newTestTracker(WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))

	calls := 0
	err := tr.RetryWithBackoff(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoffEventualSuccess(t *testing.T) {
	tr := newTestTracker(WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))

	calls := 0
	err := tr.RetryWithBackoff(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffExhaustion(t *testing.T) {
	tr := newTestTracker(WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))

	boom := errors.New("boom")
	calls := 0
	err := tr.RetryWithBackoff(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "attempt count equals schedule length")

	// Exhaustion must not touch fault counters.
	assert.Equal(t, State{}, tr.State(1))
}

func TestRetryWithBackoffContextCancelled(t *testing.T) {
	tr := newTestTracker(WithRetryDelays([]time.Duration{time.Hour, time.Hour, time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.RetryWithBackoff(ctx, "op", func(context.Context) error {
			return errors.New("fail")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestArtifactName(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Equal(t, "error_4_extraction_20250314_150926.png", ArtifactName(4, CategoryExtraction, ts))
}
