// Package engine runs the cooperative scheduler loop that owns the upload
// sessions, the playback engine and status queries.
//
// Exactly one goroutine, the one calling Run, mutates player state. Other
// goroutines (HTTP handlers, the library watcher) submit jobs and wait for
// their result. Each pass of the loop first runs the jobs that were queued
// when the pass began, then advances playback by one tick.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmartingarciia/retroducer/internal/gate"
	"github.com/mmartingarciia/retroducer/internal/history"
	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/playback"
	"github.com/mmartingarciia/retroducer/internal/status"
	"github.com/mmartingarciia/retroducer/internal/storage"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

// ErrStopped is returned to callers whose job could not run because the
// loop has exited.
var ErrStopped = errors.New("player stopped")

// Event is pushed to observers when something noteworthy happens.
type Event struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Options tunes the loop.
type Options struct {
	TickInterval     time.Duration
	QueueSize        int
	HistoryLimit     int
	DebounceInterval time.Duration
}

// Player ties the state machines to the scheduler loop.
type Player struct {
	gate     *gate.Gate
	uploads  *upload.Manager
	playback *playback.Engine
	reporter *status.Reporter
	history  history.Store
	opts     Options

	jobs    chan job
	wake    chan struct{}
	stopped chan struct{}
	running sync.Once

	watcher *libraryWatcher

	cbMu          sync.RWMutex
	eventCallback func(Event)
}

// NewPlayer wires the state machines together. hist may be nil.
func NewPlayer(g *gate.Gate, uploads *upload.Manager, pb *playback.Engine, reporter *status.Reporter, hist history.Store, opts Options) *Player {
	if hist == nil {
		hist = history.NoopStore{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	p := &Player{
		gate:     g,
		uploads:  uploads,
		playback: pb,
		reporter: reporter,
		history:  hist,
		opts:     opts,
		jobs:     make(chan job, opts.QueueSize),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	uploads.OnDone(p.uploadFinished)
	pb.OnDone(p.playbackFinished)

	if fsp, ok := g.Provider().(*storage.FileSystemProvider); ok {
		p.watcher = newLibraryWatcher(p, fsp.GetPath(), opts.DebounceInterval)
	}
	return p
}

// Sets a callback function to be called on player events.
func (p *Player) SetEventCallback(callback func(Event)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.eventCallback = callback
}

func (p *Player) emit(e Event) {
	p.cbMu.RLock()
	cb := p.eventCallback
	p.cbMu.RUnlock()
	if cb != nil {
		cb(e)
	}
}

// Run executes the scheduler loop until ctx is cancelled. It may be called
// once; later calls return ErrStopped immediately.
func (p *Player) Run(ctx context.Context) error {
	err := ErrStopped
	p.running.Do(func() {
		err = p.run(ctx)
	})
	return err
}

func (p *Player) run(ctx context.Context) error {
	defer p.shutdown()

	if err := p.ensureStorage(ctx); err != nil {
		return err
	}
	if p.watcher != nil {
		if err := p.watcher.start(ctx); err != nil {
			logger.Warn("Library watcher disabled: %v", err)
		}
	}

	logger.Info("Scheduler loop started (tick %s)", p.opts.TickInterval)
	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	for {
		outcome := p.pass(ctx)
		if outcome == playback.TickProgress {
			// keep feeding while the output accepts data
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// pass runs the jobs queued before it started, then one playback tick.
func (p *Player) pass(ctx context.Context) playback.Outcome {
	for n := len(p.jobs); n > 0; n-- {
		j := <-p.jobs
		j.done <- j.fn(ctx)
	}
	return p.playback.Tick()
}

// shutdown releases every handle still held and fails queued jobs.
func (p *Player) shutdown() {
	close(p.stopped)
	if s, ok := p.uploads.Active(); ok {
		p.uploads.Abort(s.ID, ErrStopped)
	}
	p.playback.Stop()
	for {
		select {
		case j := <-p.jobs:
			j.done <- ErrStopped
		default:
			if p.watcher != nil {
				p.watcher.close()
			}
			logger.Info("Scheduler loop stopped")
			return
		}
	}
}
