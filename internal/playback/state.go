package playback

import (
	"encoding/json"
	"time"
)

// State is the playback state machine position.
type State int

const (
	Stopped State = iota
	Playing
	Paused
	Error
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome is what a single Tick achieved.
type Outcome int

const (
	// TickIdle: nothing to do (not playing, or the source had no data yet).
	TickIdle Outcome = iota
	// TickProgress: one block was decoded and accepted by the output.
	TickProgress
	// TickBackpressure: the output refused the pending block.
	TickBackpressure
	// TickEnded: the source is exhausted and playback stopped.
	TickEnded
	// TickFailed: a read or decode error moved the engine to Error.
	TickFailed
)

func (o Outcome) String() string {
	switch o {
	case TickIdle:
		return "idle"
	case TickProgress:
		return "progress"
	case TickBackpressure:
		return "backpressure"
	case TickEnded:
		return "ended"
	case TickFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of the playback session.
type Snapshot struct {
	State         State
	SourcePath    string
	BytesConsumed int64
	Volume        int
	LastError     error
}

// Result describes a playback session that has ended.
type Result struct {
	SessionID     string
	SourcePath    string
	BytesConsumed int64
	State         State
	Err           error
	StartedAt     time.Time
	EndedAt       time.Time
}
