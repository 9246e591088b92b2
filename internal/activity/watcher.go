package activity

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Recorder receives activity events.
type Recorder interface {
	TrackChangeNow()
}

// Watcher turns file system changes below a set of paths into activity events.
type Watcher struct {
	paths    []string
	ignore   []string
	recorder Recorder
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for paths. Files and directories whose base name matches
// one of the ignore globs are skipped.
func NewWatcher(paths, ignore []string, recorder Recorder, logger zerolog.Logger) (*Watcher, error) {
	for _, pattern := range ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		paths:    paths,
		ignore:   ignore,
		recorder: recorder,
		watcher:  fw,
		logger:   logger.With().Str("component", "activity-watcher").Logger(),
	}, nil
}

// Start registers every configured path and begins delivering events.
func (w *Watcher) Start(ctx context.Context) error {
	for _, p := range w.paths {
		if err := w.addTree(p); err != nil {
			return err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info().Strs("paths", w.paths).Msg("Watching for activity")
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
		}
	}

	w.logger.Debug().Str("path", event.Name).Stringer("op", event.Op).Msg("Activity")
	w.recorder.TrackChangeNow()
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
