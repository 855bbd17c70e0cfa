// Package session tracks the state of a single table: lifecycle
// status, round history, timer and score interpretation, decision
// lifecycle and statistics. A Session is mutated only through its
// methods; observers read point-in-time snapshots.
package session

import (
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/tablepilot/tablepilot/internal/pattern"
)

// Status is the lifecycle state of a table.
type Status int

const (
	StatusLearning Status = iota // watching the first rounds, no decisions
	StatusActive
	StatusPaused
	StatusStuck // repeated same-category failures, needs manual resume
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusLearning:
		return "learning"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusStuck:
		return "stuck"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Rounds observed before the table leaves the learning phase.
const learningRoundsRequired = 3

// Timer values above this threshold allow a decision to be acted on.
const clickableThreshold = 6

// historyCap is the number of recent round outcomes kept for matching.
const historyCap = 3

// Result records whether a decision matched the round winner.
type Result int

const (
	ResultNone Result = iota // no decision was in flight
	ResultCorrect
	ResultIncorrect
)

func (r Result) String() string {
	switch r {
	case ResultCorrect:
		return "correct"
	case ResultIncorrect:
		return "incorrect"
	default:
		return "none"
	}
}

// Outcome is an immutable snapshot of a completed round.
type Outcome struct {
	RoundNumber    int
	Timestamp      time.Time
	TimerAtStart   int
	BlueScore      int
	RedScore       int
	Winner         byte // outcome symbol, A or B
	Decision       pattern.Side
	PatternMatched string // canonical rule text, empty if no decision
	Result         Result
}

// Stats is a read-only statistics snapshot for reporting.
type Stats struct {
	TableID          int
	Status           Status
	RoundsWatched    int
	TotalRounds      int
	TotalDecisions   int
	CorrectDecisions int
	Accuracy         float64 // percent, 2 decimals, 0 if no decisions
	Timer            int
	TimerKnown       bool
	BlueScore        int
	RedScore         int
	LastRounds       string // up to 3 most recent outcome symbols
	DecisionPending  bool
}

// Snapshot carries the fields the scheduler needs to classify a table.
type Snapshot struct {
	TableID    int
	Status     Status
	Timer      int
	TimerKnown bool
}

// Session is the state machine for one table.
type Session struct {
	mu     sync.Mutex
	id     int
	logger *log.Logger
	clock  quartz.Clock

	status        Status
	history       []byte
	roundsWatched int
	roundNumber   int

	timer      int
	timerKnown bool
	blueScore  int
	redScore   int
	prevBlue   int
	prevRed    int

	lastDecision    pattern.Side
	lastRuleMatched string
	decisionPending bool

	completed        []Outcome
	totalDecisions   int
	correctDecisions int

	sessionStart time.Time
	lastUpdate   time.Time
}

// New creates a session in the learning state.
func New(id int, logger *log.Logger, clock quartz.Clock) *Session {
	now := clock.Now()
	return &Session{
		id:           id,
		logger:       logger.WithPrefix("session").With("table", id),
		clock:        clock,
		status:       StatusLearning,
		sessionStart: now,
		lastUpdate:   now,
	}
}

// ID returns the table identifier.
func (s *Session) ID() int {
	return s.id
}

// UpdateTimer stores the latest observed timer value. Domain
// validation belongs to the extraction collaborator.
func (s *Session) UpdateTimer(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = value
	s.timerKnown = true
	s.lastUpdate = s.clock.Now()
}

// UpdateScores stores the new scores and infers a winner from the
// delta: a blue increase means side2 won, a red increase means side1.
// Returns the winner's outcome symbol, or 0 if neither score moved.
// If both scores increased at once (an upstream extraction anomaly)
// blue takes precedence and the ambiguity is logged.
func (s *Session) UpdateScores(blue, red int) byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevBlue, prevRed := s.blueScore, s.redScore
	s.prevBlue, s.prevRed = prevBlue, prevRed
	s.blueScore, s.redScore = blue, red
	s.lastUpdate = s.clock.Now()

	var winner byte
	switch {
	case blue > prevBlue && red > prevRed:
		winner = pattern.SymbolB
		s.logger.Warn("both scores increased in one observation, resolving to side2",
			"blue", blue, "prev_blue", prevBlue, "red", red, "prev_red", prevRed)
	case blue > prevBlue:
		winner = pattern.SymbolB
	case red > prevRed:
		winner = pattern.SymbolA
	}

	if winner != 0 {
		s.logger.Debug("score change detected",
			"blue", blue, "prev_blue", prevBlue,
			"red", red, "prev_red", prevRed,
			"winner", pattern.SideForSymbol(winner).String())
	}
	return winner
}

// DetectNewRound reports whether the timer rolled over from the final
// countdown to a fresh countdown, which marks a round boundary even
// before a score delta is observed.
func (s *Session) DetectNewRound(currentTimer int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timerKnown {
		return false
	}
	return s.timer <= clickableThreshold && currentTimer > 10
}

// RecordRound records a completed round: appends the winner to the
// history, resolves any in-flight decision against it, and returns the
// immutable outcome. Transitions Learning -> Active once enough rounds
// have been watched.
func (s *Session) RecordRound(winner byte, timerAtStart int) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roundNumber++
	s.roundsWatched++

	s.history = append(s.history, winner)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}

	if s.status == StatusLearning && s.roundsWatched >= learningRoundsRequired {
		s.status = StatusActive
		s.logger.Info("learning phase complete", "rounds_watched", s.roundsWatched)
	}

	result := ResultNone
	if s.lastDecision != pattern.SideNone {
		s.totalDecisions++
		if s.lastDecision == pattern.SideForSymbol(winner) {
			result = ResultCorrect
			s.correctDecisions++
		} else {
			result = ResultIncorrect
		}
	}

	if timerAtStart <= 0 {
		timerAtStart = 15 // countdown start when extraction missed the first frame
	}

	outcome := Outcome{
		RoundNumber:    s.roundNumber,
		Timestamp:      s.clock.Now(),
		TimerAtStart:   timerAtStart,
		BlueScore:      s.blueScore,
		RedScore:       s.redScore,
		Winner:         winner,
		Decision:       s.lastDecision,
		PatternMatched: s.lastRuleMatched,
		Result:         result,
	}
	s.completed = append(s.completed, outcome)

	s.logger.Info("round complete",
		"round", outcome.RoundNumber,
		"winner", pattern.SideForSymbol(winner).String(),
		"decision", outcome.Decision.String(),
		"result", result.String())

	s.lastDecision = pattern.SideNone
	s.lastRuleMatched = ""
	s.decisionPending = false
	s.lastUpdate = s.clock.Now()

	return outcome
}

// ShouldDecide reports whether the table is eligible to produce a
// decision right now: active (past learning), no decision in flight, a
// full 3-round history, and a timer in the clickable range.
func (s *Session) ShouldDecide() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldDecideLocked()
}

func (s *Session) shouldDecideLocked() bool {
	if s.status != StatusActive {
		return false
	}
	if s.decisionPending {
		return false
	}
	if len(s.history) != historyCap {
		return false
	}
	return s.timerKnown && s.timer > clickableThreshold
}

// Decide looks the current history up in the store. On a match it
// records the decision as in flight and returns the side to act on;
// otherwise it returns SideNone with no side effects.
func (s *Session) Decide(store *pattern.Store) pattern.Side {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shouldDecideLocked() {
		return pattern.SideNone
	}

	history := string(s.history)
	rule, ok := store.Match(history)
	if !ok {
		s.logger.Debug("no pattern matched", "history", history)
		return pattern.SideNone
	}

	side := rule.Side()
	s.lastDecision = side
	s.lastRuleMatched = rule.String()
	s.decisionPending = true
	s.logger.Info("decision made", "history", history, "rule", rule.String(), "decision", side.String())
	return side
}

// TimerClickable reports whether the last observed timer still allows
// an action to be taken.
func (s *Session) TimerClickable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerKnown && s.timer > clickableThreshold
}

// Pause suspends processing. No-op once stopped.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopped {
		return
	}
	s.status = StatusPaused
	s.logger.Info("table paused")
}

// Resume returns the table to Learning or Active depending on whether
// the learning phase completed. Clears a stuck status. No-op once
// stopped.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopped {
		return
	}
	if s.roundsWatched >= learningRoundsRequired {
		s.status = StatusActive
	} else {
		s.status = StatusLearning
	}
	s.logger.Info("table resumed", "status", s.status.String())
}

// MarkStuck flags the table as needing manual intervention. Triggered
// by the fault tracker's stuck signal, never by the session itself.
func (s *Session) MarkStuck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopped {
		return
	}
	s.status = StatusStuck
	s.logger.Warn("table marked stuck")
}

// Stop moves the table to its terminal state.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusStopped
	s.logger.Info("table stopped")
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Eligible reports whether the table should be processed this tick.
func (s *Session) Eligible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusLearning || s.status == StatusActive
}

// LastRounds returns the recent outcome symbols as a string, most
// recent last. Empty until at least one round completes.
func (s *Session) LastRounds() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.history)
}

// Snapshot returns the fields the scheduler classifies tables by.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TableID:    s.id,
		Status:     s.status,
		Timer:      s.timer,
		TimerKnown: s.timerKnown,
	}
}

// Statistics returns a read-only statistics snapshot.
func (s *Session) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	accuracy := 0.0
	if s.totalDecisions > 0 {
		accuracy = float64(s.correctDecisions) / float64(s.totalDecisions) * 100
		accuracy = math.Round(accuracy*100) / 100
	}

	return Stats{
		TableID:          s.id,
		Status:           s.status,
		RoundsWatched:    s.roundsWatched,
		TotalRounds:      len(s.completed),
		TotalDecisions:   s.totalDecisions,
		CorrectDecisions: s.correctDecisions,
		Accuracy:         accuracy,
		Timer:            s.timer,
		TimerKnown:       s.timerKnown,
		BlueScore:        s.blueScore,
		RedScore:         s.redScore,
		LastRounds:       string(s.history),
		DecisionPending:  s.decisionPending,
	}
}

// CompletedRounds returns a copy of the append-only round log.
func (s *Session) CompletedRounds() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, len(s.completed))
	copy(out, s.completed)
	return out
}
