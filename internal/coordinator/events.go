package coordinator

import (
	"sync"
	"time"
)

// EventType discriminates observer events.
type EventType string

const (
	EventStatus        EventType = "status"
	EventRoundComplete EventType = "round-complete"
	EventError         EventType = "error"
)

// Event is one entry on the observer channel. Exactly one payload
// field is set, matching the type.
type Event struct {
	Type      EventType      `json:"type"`
	TableID   int            `json:"table_id"`
	Timestamp time.Time      `json:"timestamp"`
	Status    *StatusPayload `json:"status,omitempty"`
	Round     *RoundPayload  `json:"round,omitempty"`
	Error     *ErrorPayload  `json:"error,omitempty"`
}

// StatusPayload is the per-table snapshot emitted after every cycle.
type StatusPayload struct {
	Status           string  `json:"status"`
	Timer            int     `json:"timer"`
	TimerKnown       bool    `json:"timer_known"`
	BlueScore        int     `json:"blue_score"`
	RedScore         int     `json:"red_score"`
	LastRounds       string  `json:"last_rounds"`
	RoundsWatched    int     `json:"rounds_watched"`
	TotalRounds      int     `json:"total_rounds"`
	TotalDecisions   int     `json:"total_decisions"`
	CorrectDecisions int     `json:"correct_decisions"`
	Accuracy         float64 `json:"accuracy"`
	DecisionPending  bool    `json:"decision_pending"`
}

// RoundPayload carries a completed round for persistence and display.
type RoundPayload struct {
	RoundNumber  int    `json:"round_number"`
	TimerAtStart int    `json:"timer_at_start"`
	BlueScore    int    `json:"blue_score"`
	RedScore     int    `json:"red_score"`
	Winner       string `json:"winner"`
	Decision     string `json:"decision"`
	Pattern      string `json:"pattern,omitempty"`
	Result       string `json:"result"`
}

// ErrorPayload describes a per-cycle failure.
type ErrorPayload struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Stuck    bool   `json:"stuck"`
	Artifact string `json:"artifact"`
}

// EventQueue is a bounded, lossy queue between the coordinator and its
// observers. The coordinator never blocks on a slow consumer: when the
// buffer is full the oldest unread event is dropped so the freshest
// state stays visible.
type EventQueue struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewEventQueue creates a queue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventQueue{ch: make(chan Event, capacity)}
}

// Publish enqueues an event, dropping the oldest unread event if the
// buffer is full. Never blocks.
func (q *EventQueue) Publish(e Event) {
	select {
	case q.ch <- e:
		return
	default:
	}
	// Buffer full: make room and retry once. If a consumer raced us
	// and the second send still fails, the event is dropped.
	select {
	case <-q.ch:
	default:
	}
	select {
	case q.ch <- e:
	default:
	}
}

// Events returns the receive side of the queue.
func (q *EventQueue) Events() <-chan Event {
	return q.ch
}

// Close closes the queue. Publish must not be called after Close.
func (q *EventQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
