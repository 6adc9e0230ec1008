// Package gate serializes access to the storage device between the upload
// writer and the playback reader.
//
// A Write handle excludes every other handle on the same path; a Read handle
// excludes writers on the same path. All grants and releases go through a
// single mutex, so the rule holds whether callers share one goroutine or not.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/metrics"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/storage"
)

// Handle is an open file granted by the gate. It is owned by whoever
// acquired it until it is passed back to Release.
type Handle struct {
	id   uint64
	path string
	mode storage.Mode
	file storage.File
	gate *Gate

	released bool
}

func (h *Handle) Path() string       { return h.path }
func (h *Handle) Mode() storage.Mode { return h.mode }

// Read reads from the underlying file. 0, io.EOF marks the end of data.
func (h *Handle) Read(p []byte) (int, error) {
	if h.isReleased() {
		return 0, errReleased
	}
	return h.file.Read(p)
}

// Write appends to the underlying file and may return a short count.
func (h *Handle) Write(p []byte) (int, error) {
	if h.isReleased() {
		return 0, errReleased
	}
	return h.file.Write(p)
}

func (h *Handle) isReleased() bool {
	h.gate.mu.Lock()
	defer h.gate.mu.Unlock()
	return h.released
}

var errReleased = errors.New("gate: handle already released")

type pathState struct {
	writer  *Handle
	readers map[uint64]*Handle
}

// Gate grants exclusive or shared handles per path.
type Gate struct {
	provider storage.StorageProvider
	metrics  metrics.GateMetrics

	mu     sync.Mutex
	paths  map[string]*pathState
	nextID uint64
}

func New(provider storage.StorageProvider, m metrics.GateMetrics) *Gate {
	if m == nil {
		m = metrics.NewNoopGateMetrics()
	}
	return &Gate{
		provider: provider,
		metrics:  m,
		paths:    make(map[string]*pathState),
	}
}

// Acquire opens path in the given mode if the exclusivity rules allow it.
// It returns an error wrapping models.ErrBusy on contention. Open failures
// from the provider are returned wrapped and leave the gate unchanged.
//
// The provider open runs under the gate lock so that the check and the
// grant are one atomic step.
func (g *Gate) Acquire(ctx context.Context, path string, mode storage.Mode) (*Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.paths[path]
	if st != nil {
		if st.writer != nil || (mode == storage.ModeWrite && len(st.readers) > 0) {
			g.metrics.RecordAcquire(mode.String(), "busy")
			return nil, fmt.Errorf("acquire %s for %s: %w", path, mode, models.ErrBusy)
		}
	}

	file, err := g.provider.Open(ctx, path, mode)
	if err != nil {
		g.metrics.RecordAcquire(mode.String(), "error")
		return nil, fmt.Errorf("acquire %s for %s: %w", path, mode, err)
	}

	g.nextID++
	h := &Handle{id: g.nextID, path: path, mode: mode, file: file, gate: g}
	if st == nil {
		st = &pathState{readers: make(map[uint64]*Handle)}
		g.paths[path] = st
	}
	if mode == storage.ModeWrite {
		st.writer = h
	} else {
		st.readers[h.id] = h
	}
	g.metrics.RecordAcquire(mode.String(), "granted")
	logger.Debug("gate: granted %s handle %d on %s", mode, h.id, path)
	return h, nil
}

// Release closes the handle and frees its path. Releasing a nil or already
// released handle is a no-op. The returned error is the close error of the
// underlying file on the first release (a failed flush for writers); the
// path is freed regardless.
func (g *Gate) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if st := g.paths[h.path]; st != nil {
		if st.writer == h {
			st.writer = nil
		}
		delete(st.readers, h.id)
		if st.writer == nil && len(st.readers) == 0 {
			delete(g.paths, h.path)
		}
	}

	logger.Debug("gate: released %s handle %d on %s", h.mode, h.id, h.path)
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("release %s: %w", h.path, err)
	}
	return nil
}

// Remove deletes path from storage if no handle is open on it.
func (g *Gate) Remove(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paths[path] != nil {
		return fmt.Errorf("remove %s: %w", path, models.ErrBusy)
	}
	return g.provider.DeleteFile(ctx, path)
}

// IsFree reports whether no handle is open on path.
func (g *Gate) IsFree(path string) bool {
	readers, writer := g.Holders(path)
	return readers == 0 && !writer
}

// Holders reports the number of read handles and whether a write handle is
// open on path.
func (g *Gate) Holders(path string) (readers int, writer bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.paths[path]
	if st == nil {
		return 0, false
	}
	return len(st.readers), st.writer != nil
}

// Provider exposes the storage provider for operations that need no handle,
// such as listing and metadata.
func (g *Gate) Provider() storage.StorageProvider {
	return g.provider
}
