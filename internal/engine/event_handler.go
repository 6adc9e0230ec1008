package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmartingarciia/retroducer/internal/history"
	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/playback"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

// Applies one upload chunk on the loop.
func (p *Player) HandleChunk(ctx context.Context, c upload.Chunk) (upload.Session, error) {
	var s upload.Session
	err := p.submit(ctx, func(ctx context.Context) error {
		var err error
		s, err = p.uploads.HandleChunk(ctx, c)
		return err
	})
	if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.State = upload.Failed
	}
	return s, err
}

// Fails the upload with the given id, if it is still active.
func (p *Player) AbortUpload(ctx context.Context, id string, cause error) error {
	return p.submit(ctx, func(context.Context) error {
		p.uploads.Abort(id, cause)
		return nil
	})
}

// Starts playback of path.
func (p *Player) Start(ctx context.Context, path string) error {
	return p.submit(ctx, func(ctx context.Context) error {
		return p.playback.Start(ctx, path)
	})
}

// Pauses playback.
func (p *Player) Pause(ctx context.Context) error {
	return p.submit(ctx, func(context.Context) error {
		return p.playback.Pause()
	})
}

// Resumes paused playback.
func (p *Player) Resume(ctx context.Context) error {
	return p.submit(ctx, func(context.Context) error {
		return p.playback.Resume()
	})
}

// Stops playback from any state.
func (p *Player) Stop(ctx context.Context) error {
	return p.submit(ctx, func(context.Context) error {
		p.playback.Stop()
		return nil
	})
}

// Sets the output volume and returns the clamped level.
func (p *Player) SetVolume(ctx context.Context, level int) (int, error) {
	var applied int
	err := p.submit(ctx, func(context.Context) error {
		applied = p.playback.SetVolume(level)
		return nil
	})
	return applied, err
}

// Returns the current system status.
func (p *Player) Status(ctx context.Context) (models.SystemStatus, error) {
	var st models.SystemStatus
	err := p.submit(ctx, func(ctx context.Context) error {
		st = p.reporter.Report(ctx)
		return nil
	})
	return st, err
}

// Returns the most recent history entries, newest first.
func (p *Player) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = p.opts.HistoryLimit
	}
	entries, err := p.history.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// Records a finished upload and notifies observers.
func (p *Player) uploadFinished(s upload.Session) {
	e := history.Entry{
		ID:        s.ID,
		Kind:      history.KindUpload,
		Path:      s.Path,
		Bytes:     s.BytesWritten,
		Result:    s.State.String(),
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
	msg := fmt.Sprintf("Upload complete: %s (%d bytes)", s.Path, s.BytesWritten)
	if s.Err != nil {
		e.Error = s.Err.Error()
		msg = fmt.Sprintf("Upload failed: %s: %v", s.Path, s.Err)
	}
	p.record(e)
	p.emit(Event{Type: "upload", Path: s.Path, Message: msg})
}

// Records a finished playback session and notifies observers.
func (p *Player) playbackFinished(r playback.Result) {
	e := history.Entry{
		ID:        r.SessionID,
		Kind:      history.KindPlayback,
		Path:      r.SourcePath,
		Bytes:     r.BytesConsumed,
		Result:    r.State.String(),
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
	msg := fmt.Sprintf("Playback stopped: %s", r.SourcePath)
	if r.Err != nil {
		e.Error = r.Err.Error()
		msg = fmt.Sprintf("Playback failed: %s: %v", r.SourcePath, r.Err)
	}
	p.record(e)
	p.emit(Event{Type: "playback", Path: r.SourcePath, Message: msg})
}

func (p *Player) record(e history.Entry) {
	if err := p.history.Record(context.Background(), e); err != nil {
		logger.Warn("History: %v", err)
	}
}
