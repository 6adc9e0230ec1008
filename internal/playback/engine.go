// Package playback streams one stored file through a decoder to the audio
// output, one bounded block per scheduler tick.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmartingarciia/retroducer/internal/audio"
	"github.com/mmartingarciia/retroducer/internal/gate"
	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/metrics"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/storage"
)

// Config holds the engine parameters.
type Config struct {
	Format    audio.Format
	BlockSize int
	MinVolume int
	MaxVolume int
	Volume    int
}

// countingReader counts the bytes read from storage so progress reflects
// the file offset, not the decoded PCM size.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Engine is the playback state machine. Tick is driven by the scheduler
// loop; Snapshot may be called from any goroutine.
type Engine struct {
	gate    *gate.Gate
	out     audio.Output
	cfg     Config
	metrics metrics.PlaybackMetrics
	onDone  func(Result)

	mu            sync.Mutex
	state         State
	sessionID     string
	path          string
	size          int64
	startedAt     time.Time
	handle        *gate.Handle
	reader        *countingReader
	decoder       audio.Decoder
	buf           []byte
	pending       []byte
	bytesConsumed int64
	volume        int
	lastErr       error
}

func New(g *gate.Gate, out audio.Output, cfg Config, m metrics.PlaybackMetrics) *Engine {
	if m == nil {
		m = metrics.NewNoopPlaybackMetrics()
	}
	e := &Engine{
		gate:    g,
		out:     out,
		cfg:     cfg,
		metrics: m,
		buf:     make([]byte, cfg.BlockSize),
	}
	e.volume = e.clamp(cfg.Volume)
	out.SetVolume(e.volume)
	return e
}

// OnDone registers fn to be called when a session ends by exhaustion,
// error or explicit stop. fn runs with the engine locked and must not call
// back into it.
func (e *Engine) OnDone(fn func(Result)) {
	e.onDone = fn
}

// Start opens path for reading and begins playback. The decoder is created
// on the first tick, so header errors surface as an Error state.
func (e *Engine) Start(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Stopped {
		return fmt.Errorf("cannot start %s while %s: %w", path, e.state, models.ErrBusy)
	}
	if path == "" || strings.ContainsAny(path, `/\`) || strings.Contains(path, "..") {
		return fmt.Errorf("invalid source path %q: %w", path, models.ErrInvalidInput)
	}

	h, err := e.gate.Acquire(ctx, path, storage.ModeRead)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w: %w", path, models.ErrSourceUnavailable, err)
	}

	// the size bounds header parsing; 0 leaves only the fixed caps
	var size int64
	if meta, err := e.gate.Provider().GetMetadata(ctx, path); err == nil {
		size = meta.Size
	} else {
		logger.Debug("Playback: no size for %s: %v", path, err)
	}

	e.state = Playing
	e.sessionID = uuid.NewString()
	e.path = path
	e.size = size
	e.startedAt = time.Now()
	e.handle = h
	e.reader = &countingReader{r: h}
	e.decoder = nil
	e.pending = nil
	e.bytesConsumed = 0
	e.lastErr = nil
	logger.Info("Playback started: %s", path)
	return nil
}

// Tick advances playback by at most one block.
func (e *Engine) Tick() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	outcome := e.tick()
	e.metrics.RecordTick(outcome.String())
	return outcome
}

func (e *Engine) tick() Outcome {
	if e.state != Playing {
		return TickIdle
	}

	if e.pending == nil {
		if e.decoder == nil {
			dec, err := audio.NewDecoder(e.path, e.reader, e.size, e.cfg.Format)
			e.bytesConsumed = e.reader.n
			if err != nil {
				e.fail(err)
				return TickFailed
			}
			e.decoder = dec
		}

		n, err := e.decoder.Decode(e.buf)
		e.bytesConsumed = e.reader.n
		switch {
		case err != nil && errors.Is(err, io.EOF) && n == 0:
			e.finish(Stopped, nil)
			return TickEnded
		case err != nil && !errors.Is(err, io.EOF):
			e.fail(err)
			return TickFailed
		case n == 0:
			return TickIdle
		}
		e.pending = e.buf[:n]
	}

	if !e.out.Feed(e.pending) {
		return TickBackpressure
	}
	e.pending = nil
	return TickProgress
}

func (e *Engine) fail(err error) {
	e.lastErr = fmt.Errorf("playback of %s failed: %w: %w", e.path, models.ErrIOFailure, err)
	logger.Error("%v", e.lastErr)
	e.finish(Error, e.lastErr)
}

// finish releases the source and moves to the terminal state of the session.
func (e *Engine) finish(state State, err error) {
	e.closeSource()
	e.state = state
	if state == Stopped {
		logger.Info("Playback of %s stopped after %d bytes", e.path, e.bytesConsumed)
	}
	if e.onDone != nil {
		e.onDone(Result{
			SessionID:     e.sessionID,
			SourcePath:    e.path,
			BytesConsumed: e.bytesConsumed,
			State:         state,
			Err:           err,
			StartedAt:     e.startedAt,
			EndedAt:       time.Now(),
		})
	}
}

func (e *Engine) closeSource() {
	if e.decoder != nil {
		if err := e.decoder.Close(); err != nil {
			logger.Warn("Playback: closing decoder for %s: %v", e.path, err)
		}
		e.decoder = nil
	}
	if err := e.gate.Release(e.handle); err != nil {
		logger.Warn("Playback: releasing %s: %v", e.path, err)
	}
	e.handle = nil
	e.reader = nil
	e.pending = nil
}

// Pause suspends a playing session. The source stays open.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Playing {
		return fmt.Errorf("cannot pause while %s: %w", e.state, models.ErrInvalidTransition)
	}
	e.state = Paused
	return nil
}

// Resume continues a paused session from where it left off.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Paused {
		return fmt.Errorf("cannot resume while %s: %w", e.state, models.ErrInvalidTransition)
	}
	e.state = Playing
	return nil
}

// Stop ends the session from any state and releases the source. Stopping
// an already stopped engine does nothing. Stopping after an error clears it.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Stopped {
		return
	}
	if e.state == Error {
		// the session was reported when it failed
		e.state = Stopped
		e.lastErr = nil
		return
	}
	e.finish(Stopped, nil)
}

// SetVolume clamps level to the supported range, applies it to the output
// and returns the applied value.
func (e *Engine) SetVolume(level int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volume = e.clamp(level)
	e.out.SetVolume(e.volume)
	return e.volume
}

func (e *Engine) clamp(level int) int {
	return max(e.cfg.MinVolume, min(level, e.cfg.MaxVolume))
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		State:         e.state,
		SourcePath:    e.path,
		BytesConsumed: e.bytesConsumed,
		Volume:        e.volume,
		LastError:     e.lastErr,
	}
}
