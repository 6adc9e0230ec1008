// Package upload drives one chunked inbound transfer into a file on the
// storage device.
package upload

import (
	"encoding/json"
	"time"

	"github.com/mmartingarciia/retroducer/internal/gate"
)

// State is the lifecycle position of an upload session.
type State int

const (
	Idle State = iota
	Receiving
	Finalizing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Finalizing:
		return "finalizing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Active reports whether a session in this state blocks a new transfer.
func (s State) Active() bool {
	return s == Receiving || s == Finalizing
}

// Chunk is one slice of an inbound transfer.
//
// The first chunk of a transfer has an empty SessionID. Index is the byte
// offset at which Data starts and must equal the bytes written so far.
type Chunk struct {
	SessionID string
	Filename  string
	Index     int64
	Data      []byte
	Final     bool
}

// Session is the state of one transfer. Values returned by the Manager are
// snapshots; only the Manager mutates the live session.
type Session struct {
	ID           string
	Path         string
	BytesWritten int64
	State        State
	Err          error
	StartedAt    time.Time
	EndedAt      time.Time

	handle *gate.Handle
}

func (s *Session) snapshot() Session {
	c := *s
	c.handle = nil
	return c
}
