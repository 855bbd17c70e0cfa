package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tablepilot/tablepilot/internal/fault"
	"github.com/tablepilot/tablepilot/internal/pattern"
	"github.com/tablepilot/tablepilot/internal/session"
)

var errTimerUnreadable = errors.New("timer not readable")

// processTable runs one table through a full cycle: capture, extract,
// interpret, decide, click. A status event is emitted regardless of
// outcome; failures abort the rest of the cycle after being reported.
func (c *Coordinator) processTable(ctx context.Context, tableID int, h *tableHandle) {
	defer c.publishStatus(tableID, h)

	frame, err := c.collab.Capture.CaptureRegion(ctx, tableID)
	if err != nil {
		c.reportFailure(tableID, h, fault.CategoryCapture, err)
		return
	}

	state, err := c.collab.Extract.ExtractState(ctx, tableID, frame)
	if err != nil {
		c.reportFailure(tableID, h, fault.CategoryExtraction, err)
		return
	}
	if state.Timer == nil {
		c.reportFailure(tableID, h, fault.CategoryExtraction, errTimerUnreadable)
		return
	}

	c.faults.ResetCategory(tableID, fault.CategoryCapture)
	c.faults.ResetCategory(tableID, fault.CategoryExtraction)

	decision := c.interpret(tableID, h, state)
	if decision == pattern.SideNone {
		return
	}

	// Clicks are retried with backoff before counting as a failure:
	// the action window is several seconds wide and a transient input
	// error should not burn a round.
	err = c.faults.RetryWithBackoff(ctx, "click", func(ctx context.Context) error {
		return c.collab.Click.Click(ctx, tableID, decision)
	})
	if err != nil {
		c.reportFailure(tableID, h, fault.CategoryClick, err)
		return
	}
	c.faults.ResetCategory(tableID, fault.CategoryClick)
}

// interpret applies one extracted observation to the session under the
// table lock and returns the side to click, or SideNone. Round
// completion is detected before the new observation overwrites the
// previous timer and scores.
func (c *Coordinator) interpret(tableID int, h *tableHandle, state GameState) pattern.Side {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.session
	timer := *state.Timer
	stats := sess.Statistics()
	blue, red := stats.BlueScore, stats.RedScore
	if state.BlueScore != nil {
		blue = *state.BlueScore
	}
	if state.RedScore != nil {
		red = *state.RedScore
	}

	// A round completes only when the timer rolls over from the final
	// countdown to a fresh one. Score deltas seen outside a rollover
	// (a mid-session join, an extraction glitch in a digit) are
	// baselined below without minting a round.
	if sess.DetectNewRound(timer) {
		if winner := sess.UpdateScores(blue, red); winner != 0 {
			outcome := sess.RecordRound(winner, timer)
			c.collab.Persist.AppendRound(tableID, outcome)
			c.publishRound(tableID, outcome)
		} else {
			// Rolled over with no score change: a void round, nothing
			// to record.
			c.logger.Debug("round boundary without score change", "table", tableID, "timer", timer)
		}
	}

	sess.UpdateTimer(timer)
	// Baseline the observed scores. Idempotent after a recorded round;
	// outside a rollover it absorbs the delta without recording.
	sess.UpdateScores(blue, red)

	if !sess.ShouldDecide() {
		return pattern.SideNone
	}
	decision := sess.Decide(h.patterns)
	if decision == pattern.SideNone {
		return pattern.SideNone
	}
	if !sess.TimerClickable() {
		// The window closed between the decision and now. The decision
		// stays pending and resolves against the next round.
		c.logger.Warn("decision made but click window closed", "table", tableID, "timer", timer)
		return pattern.SideNone
	}
	return decision
}

// reportFailure routes one categorized failure through the fault
// tracker, marks the table stuck at the threshold, and emits an error
// event naming the diagnostic artifact.
func (c *Coordinator) reportFailure(tableID int, h *tableHandle, category fault.Category, err error) {
	stuck := c.faults.Report(tableID, category, err.Error())
	artifact := fault.ArtifactName(tableID, category, c.clock.Now())
	if stuck {
		h.session.MarkStuck()
	}
	c.events.Publish(Event{
		Type:      EventError,
		TableID:   tableID,
		Timestamp: c.clock.Now(),
		Error: &ErrorPayload{
			Category: category.String(),
			Message:  err.Error(),
			Stuck:    stuck,
			Artifact: artifact,
		},
	})
}

func (c *Coordinator) publishStatus(tableID int, h *tableHandle) {
	stats := h.session.Statistics()
	c.events.Publish(Event{
		Type:      EventStatus,
		TableID:   tableID,
		Timestamp: c.clock.Now(),
		Status: &StatusPayload{
			Status:           stats.Status.String(),
			Timer:            stats.Timer,
			TimerKnown:       stats.TimerKnown,
			BlueScore:        stats.BlueScore,
			RedScore:         stats.RedScore,
			LastRounds:       stats.LastRounds,
			RoundsWatched:    stats.RoundsWatched,
			TotalRounds:      stats.TotalRounds,
			TotalDecisions:   stats.TotalDecisions,
			CorrectDecisions: stats.CorrectDecisions,
			Accuracy:         stats.Accuracy,
			DecisionPending:  stats.DecisionPending,
		},
	})
}

func (c *Coordinator) publishRound(tableID int, outcome session.Outcome) {
	c.events.Publish(Event{
		Type:      EventRoundComplete,
		TableID:   tableID,
		Timestamp: outcome.Timestamp,
		Round: &RoundPayload{
			RoundNumber:  outcome.RoundNumber,
			TimerAtStart: outcome.TimerAtStart,
			BlueScore:    outcome.BlueScore,
			RedScore:     outcome.RedScore,
			Winner:       pattern.SideForSymbol(outcome.Winner).String(),
			Decision:     outcome.Decision.String(),
			Pattern:      outcome.PatternMatched,
			Result:       outcome.Result.String(),
		},
	})
}

// ExportSummary renders a plain-text statistics report across all
// tables, for the CLI's final summary.
func (c *Coordinator) ExportSummary() string {
	var out string
	for _, stats := range c.AllStatistics() {
		out += fmt.Sprintf("table %d: status=%s rounds=%d decisions=%d correct=%d accuracy=%.2f%% history=%s\n",
			stats.TableID, stats.Status, stats.TotalRounds,
			stats.TotalDecisions, stats.CorrectDecisions, stats.Accuracy, stats.LastRounds)
	}
	if out == "" {
		out = "no tables registered\n"
	}
	return out
}
