package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces bursts of file events into one notification.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes to manifest and policy files.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher. A debounce of zero uses DefaultDebounce.
func NewWatcher(logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "file-watcher").Logger(),
		debounce: debounce,
	}
}

// Watch calls onChange with the path of every watched file that is written,
// created, removed or renamed, until ctx is done. A file path is watched through
// its parent directory so editors that replace files atomically are still
// noticed. A directory path reports changes to any file beneath it.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(path string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	scope := watchScope{files: make(map[string]bool)}
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			scope.trees = append(scope.trees, abs)
			err = filepath.WalkDir(abs, func(sub string, d os.DirEntry, err error) error {
				if err == nil && d.IsDir() {
					dirs[sub] = true
				}
				return err
			})
			if err != nil {
				_ = fsw.Close()
				return fmt.Errorf("failed to walk %s: %w", p, err)
			}
			continue
		}
		scope.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.processEvents(ctx, fsw, scope, onChange)

	w.logger.Info().Int("files", len(scope.files)).Int("trees", len(scope.trees)).Msg("Watching paths")
	return nil
}

type watchScope struct {
	files map[string]bool
	trees []string
}

func (s watchScope) contains(name string) bool {
	if s.files[name] {
		return true
	}
	for _, root := range s.trees {
		if strings.HasPrefix(name, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher, scope watchScope, onChange func(string)) {
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
		_ = fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !scope.contains(name) {
				continue
			}

			w.logger.Debug().Str("file", name).Str("op", event.Op.String()).Msg("File changed")

			mu.Lock()
			if t, pending := timers[name]; pending {
				t.Stop()
			}
			timers[name] = time.AfterFunc(w.debounce, func() {
				mu.Lock()
				delete(timers, name)
				mu.Unlock()
				if ctx.Err() == nil {
					onChange(name)
				}
			})
			mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
