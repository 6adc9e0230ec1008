package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/models"
)

// Checks that the storage root is reachable before the loop starts.
func (p *Player) ensureStorage(ctx context.Context) error {
	files, err := p.gate.Provider().BuildStateMap(ctx)
	if err != nil {
		return fmt.Errorf("failed to read storage at %s: %w", p.gate.Provider().GetPath(), err)
	}
	logger.Info("Storage %s holds %d files", p.gate.Provider().GetPath(), len(files))
	return nil
}

// Returns the stored files sorted by name.
//
// Listing reads the provider directly; it takes no handles and does not
// touch any session, so it does not need the loop.
func (p *Player) Library(ctx context.Context) ([]models.FileMetadata, error) {
	stateMap, err := p.gate.Provider().BuildStateMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage: %w", err)
	}

	files := make([]models.FileMetadata, 0, len(stateMap))
	for _, meta := range stateMap {
		files = append(files, meta)
	}
	// order is important for consistent API responses
	sort.Slice(files, func(i, j int) bool {
		return files[i].RelativePath < files[j].RelativePath
	})
	return files, nil
}
