package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmartingarciia/retroducer/internal/gate"
	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/metrics"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/storage"
)

// Manager owns the single active upload session. It is not safe for
// concurrent use; the scheduler loop is its only caller.
type Manager struct {
	gate    *gate.Gate
	metrics metrics.UploadMetrics
	active  *Session
	onDone  func(Session)
}

func NewManager(g *gate.Gate, m metrics.UploadMetrics) *Manager {
	if m == nil {
		m = metrics.NewNoopUploadMetrics()
	}
	return &Manager{gate: g, metrics: m}
}

// OnDone registers fn to be called with every session that reaches Closed
// or Failed.
func (m *Manager) OnDone(fn func(Session)) {
	m.onDone = fn
}

// Active returns a snapshot of the session in progress, if any.
func (m *Manager) Active() (Session, bool) {
	if m.active == nil {
		return Session{}, false
	}
	return m.active.snapshot(), true
}

// HandleChunk applies one chunk. The returned session reflects the state
// after the chunk; on failure the error wraps one of the models sentinels.
func (m *Manager) HandleChunk(ctx context.Context, c Chunk) (Session, error) {
	var s *Session
	if c.SessionID == "" {
		var err error
		if s, err = m.begin(ctx, c); err != nil {
			if s != nil {
				return s.snapshot(), err
			}
			return Session{State: Failed, Err: err}, err
		}
	} else {
		if m.active == nil || m.active.ID != c.SessionID {
			err := fmt.Errorf("no active upload %s: %w", c.SessionID, models.ErrInvalidInput)
			return Session{ID: c.SessionID, State: Failed, Err: err}, err
		}
		s = m.active
	}

	if c.Index != s.BytesWritten {
		return m.fail(s, fmt.Errorf("chunk at offset %d, expected %d: %w", c.Index, s.BytesWritten, models.ErrInvalidInput))
	}

	if len(c.Data) > 0 {
		n, err := s.handle.Write(c.Data)
		s.BytesWritten += int64(n)
		if n < len(c.Data) {
			if err == nil {
				err = errors.New("short write")
			}
			return m.fail(s, fmt.Errorf("failed to write %s at offset %d (%d of %d bytes): %w: %w",
				s.Path, c.Index, n, len(c.Data), models.ErrIOFailure, err))
		}
		if err != nil {
			return m.fail(s, fmt.Errorf("failed to write %s: %w: %w", s.Path, models.ErrIOFailure, err))
		}
	}

	if c.Final {
		return m.finalize(s)
	}
	return s.snapshot(), nil
}

// begin validates the first chunk and opens the target through the gate.
// A rejected start before the gate is reached creates no session.
func (m *Manager) begin(ctx context.Context, c Chunk) (*Session, error) {
	if m.active != nil && m.active.State.Active() {
		return nil, fmt.Errorf("upload of %s already in progress: %w", m.active.Path, models.ErrConflict)
	}
	if c.Index != 0 {
		return nil, fmt.Errorf("first chunk at offset %d: %w", c.Index, models.ErrInvalidInput)
	}
	path, err := SanitizeFilename(c.Filename)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Path:      path,
		State:     Idle,
		StartedAt: time.Now(),
	}

	h, err := m.gate.Acquire(ctx, path, storage.ModeWrite)
	if err != nil {
		if !errors.Is(err, models.ErrBusy) {
			err = fmt.Errorf("failed to open %s for upload: %w: %w", path, models.ErrIOFailure, err)
		}
		_, err = m.fail(s, err)
		return s, err
	}

	s.handle = h
	s.State = Receiving
	m.active = s
	logger.Info("Upload %s started: %s", s.ID, s.Path)
	return s, nil
}

func (m *Manager) finalize(s *Session) (Session, error) {
	s.State = Finalizing
	h := s.handle
	s.handle = nil
	if err := m.gate.Release(h); err != nil {
		return m.fail(s, fmt.Errorf("failed to finalize %s: %w: %w", s.Path, models.ErrIOFailure, err))
	}

	s.State = Closed
	s.EndedAt = time.Now()
	m.active = nil
	m.metrics.RecordUpload(s.State.String(), s.BytesWritten)
	logger.Info("Upload %s closed: %s (%d bytes)", s.ID, s.Path, s.BytesWritten)
	m.done(s)
	return s.snapshot(), nil
}

// Abort fails the active session with the given cause, typically a client
// disconnect. Unknown or finished sessions are ignored.
func (m *Manager) Abort(id string, cause error) {
	if m.active == nil || m.active.ID != id {
		return
	}
	if cause == nil {
		cause = errors.New("aborted")
	}
	m.fail(m.active, fmt.Errorf("upload %s aborted: %w: %w", id, models.ErrIOFailure, cause))
}

// fail moves s to the terminal Failed state. The partial file is kept.
func (m *Manager) fail(s *Session, err error) (Session, error) {
	if s.handle != nil {
		if rerr := m.gate.Release(s.handle); rerr != nil {
			logger.Warn("Upload %s: release after failure: %v", s.ID, rerr)
		}
		s.handle = nil
	}
	s.State = Failed
	s.Err = err
	s.EndedAt = time.Now()
	if m.active == s {
		m.active = nil
	}
	m.metrics.RecordUpload(s.State.String(), s.BytesWritten)
	logger.Warn("Upload %s failed: %v", s.ID, err)
	m.done(s)
	return s.snapshot(), err
}

func (m *Manager) done(s *Session) {
	if m.onDone != nil {
		m.onDone(s.snapshot())
	}
}
