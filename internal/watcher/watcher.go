// Package watcher reports documents dropped into a directory.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/docuconvert/internal/models"
	"github.com/fsnotify/fsnotify"
)

// DefaultExtensions are the formats the recognition service accepts.
var DefaultExtensions = models.SupportedExtensions

// DefaultSettleDelay is how long a file must stay unchanged before it is reported.
const DefaultSettleDelay = time.Second

// Watcher emits a path once a matching file has stopped changing for the
// settle delay.
type Watcher struct {
	watcher    *fsnotify.Watcher
	extensions []string
	settle     time.Duration
	logger     *slog.Logger
}

// New creates a Watcher for the given extensions, or DefaultExtensions when none are given.
func New(extensions []string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher:    w,
		extensions: extensions,
		settle:     settle,
		logger:     logger.With("component", "watcher"),
	}, nil
}

// Watch starts monitoring dir. The channel is closed when ctx is done or the
// watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan string, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}
	w.logger.Info("Watching directory.", "dir", dir, "extensions", w.extensions)

	events := make(chan string, 100)
	go func() {
		defer close(events)
		pending := make(map[string]time.Time)
		ticker := time.NewTicker(max(w.settle/4, 10*time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.IsWatched(event.Name) {
					continue
				}
				switch {
				case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
					pending[event.Name] = time.Now()
				case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					delete(pending, event.Name)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Watcher error.", "error", err)
			case now := <-ticker.C:
				for path, last := range pending {
					if now.Sub(last) < w.settle {
						continue
					}
					delete(pending, path)
					select {
					case events <- path:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// IsWatched reports whether path has one of the watched extensions.
func (w *Watcher) IsWatched(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
