package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/storage"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

// Deletes a stored file. Fails with models.ErrBusy while the file is being
// uploaded or played.
func (p *Player) DeleteFile(ctx context.Context, name string) error {
	path, err := upload.SanitizeFilename(name)
	if err != nil {
		return err
	}
	if path != name {
		return fmt.Errorf("filename %q is not a stored name: %w", name, models.ErrInvalidInput)
	}

	err = p.submit(ctx, func(ctx context.Context) error {
		return p.gate.Remove(ctx, path)
	})
	switch {
	case err == nil:
		p.emit(Event{Type: "delete", Path: path, Message: fmt.Sprintf("File deleted: %s", path)})
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("failed to delete %s: %w: %w", path, models.ErrSourceUnavailable, err)
	case errors.Is(err, models.ErrBusy), errors.Is(err, ErrStopped):
		return err
	default:
		return fmt.Errorf("failed to delete %s: %w: %w", path, models.ErrIOFailure, err)
	}
}
