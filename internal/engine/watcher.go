package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mmartingarciia/retroducer/internal/logger"
)

// libraryWatcher reports files changed on the card by something other than
// the player, e.g. the card edited on a PC while mounted.
type libraryWatcher struct {
	player   *Player
	root     string
	debounce *debouncer

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
}

func newLibraryWatcher(p *Player, root string, interval time.Duration) *libraryWatcher {
	return &libraryWatcher{
		player:   p,
		root:     root,
		debounce: newDebouncer(interval),
	}
}

// Starts watching the storage root.
func (w *libraryWatcher) start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.watcher = fsw
	logger.Info("Watching library: %s", w.root)
	go w.run(ctx)
	return nil
}

func (w *libraryWatcher) run(ctx context.Context) {
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			// If the channel is closed, exit the goroutine
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Watcher error: %v", err)
		case <-prune.C:
			w.debounce.prune()
		}
	}
}

// Processes a file system event.
func (w *libraryWatcher) handleEvent(event fsnotify.Event) {
	name, ok := relativeToRoot(w.root, event.Name)
	if !ok || strings.HasPrefix(name, ".") {
		return
	}
	// writes made through the gate are reported by the upload itself
	if !w.player.gate.IsFree(name) {
		return
	}

	var eventType, message string
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		eventType = "library_remove"
		message = fmt.Sprintf("File removed: %s", name)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		eventType = "library_change"
		message = fmt.Sprintf("File changed: %s", name)
	default:
		return
	}

	if !w.debounce.allow(eventType + ":" + name) {
		return
	}
	logger.Debug("Library event: %s %s", eventType, name)
	w.player.emit(Event{Type: eventType, Path: name, Message: message})
}

func (w *libraryWatcher) close() {
	w.closeOnce.Do(func() {
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
