package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDelay coalesces the burst of events an editor produces per save.
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and hands
// every successfully loaded version to a callback. A file that fails to load
// is logged and skipped; the previous configuration stays in effect.
//
//	write ──► debounce (250ms) ──► Load ──► onChange
//	                                 └─ error: log, keep previous
type Watcher struct {
	path     string
	onChange func(*File) error
	log      zerolog.Logger

	mu      sync.Mutex
	reloads int
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, onChange func(*File) error, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		log:      log.With().Str("component", "config").Str("path", path).Logger(),
	}
}

// Reloads returns how many reloads were delivered to the callback.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Start begins watching and returns once the watch is installed. Watching
// stops when ctx is cancelled.
//
// The directory is watched rather than the file so that saves that replace
// the file by rename are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go func() {
		defer fw.Close()

		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, w.reload)

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Error().Err(err).Msg("watch error")

			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info().Msg("watching configuration")
	return nil
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Msg("configuration not reloaded")
		return
	}
	if err := w.onChange(f); err != nil {
		w.log.Error().Err(err).Msg("configuration rejected")
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.log.Info().Int("repositories", len(f.Repositories)).Int("realms", len(f.Realms)).Msg("configuration reloaded")
}
