package coordinator

import (
	"context"

	"github.com/tablepilot/tablepilot/internal/pattern"
	"github.com/tablepilot/tablepilot/internal/session"
)

// Frame is an opaque captured image handed from capture to extraction.
// The coordinator never inspects its contents.
type Frame []byte

// GameState is the result of extracting one frame. Fields the extractor
// could not read are nil; a nil Timer aborts the cycle as an extraction
// failure, nil scores leave the previous observation in place.
type GameState struct {
	Timer     *int
	BlueScore *int
	RedScore  *int
}

// Capturer grabs the screen region of one table.
type Capturer interface {
	CaptureRegion(ctx context.Context, tableID int) (Frame, error)
}

// Extractor reads the timer and scores out of a captured frame.
type Extractor interface {
	ExtractState(ctx context.Context, tableID int, frame Frame) (GameState, error)
}

// Clicker performs the side selection action on a table.
type Clicker interface {
	Click(ctx context.Context, tableID int, decision pattern.Side) error
}

// Persister receives completed rounds and pattern updates. Calls are
// fire and forget; implementations buffer internally and surface their
// own errors through logging. Flush blocks until buffered writes have
// drained, for shutdown.
type Persister interface {
	AppendRound(tableID int, outcome session.Outcome)
	UpdatePatterns(tableID int, rules string)
	Flush()
}

// NullPersister discards everything. Used when storage is disabled and
// in tests that do not care about persistence.
type NullPersister struct{}

func (NullPersister) AppendRound(int, session.Outcome) {}
func (NullPersister) UpdatePatterns(int, string)       {}
func (NullPersister) Flush()                           {}

// Collaborators bundles the external effect interfaces the coordinator
// drives. Persist may be nil; the others are required.
type Collaborators struct {
	Capture Capturer
	Extract Extractor
	Click   Clicker
	Persist Persister
}
