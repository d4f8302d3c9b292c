package retention

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher keeps a PolicySet in sync with its file. Readers always see a
// complete set; a file that fails to parse leaves the previous set active.
type Watcher struct {
	path      string
	current   atomic.Pointer[PolicySet]
	fsWatcher *fsnotify.Watcher
	logger    zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	reloaded  chan struct{}
}

// NewWatcher loads path and watches its directory for writes.
func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	ps, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		path:      path,
		fsWatcher: fw,
		logger:    logger,
		done:      make(chan struct{}),
		reloaded:  make(chan struct{}, 1),
	}
	w.current.Store(ps)

	go w.processEvents()

	logger.Info().Str("path", path).Int("rules", len(ps.Rules)).Msg("retention policy watcher started")
	return w, nil
}

// Current returns the active policy set.
func (w *Watcher) Current() *PolicySet {
	return w.current.Load()
}

func (w *Watcher) RetentionDays(recordType string) int {
	return w.Current().RetentionDays(recordType)
}

// Reload re-reads the policy file.
func (w *Watcher) Reload() error {
	ps, err := LoadPolicy(w.path)
	if err != nil {
		return err
	}
	w.current.Store(ps)

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
	w.logger.Info().Str("path", w.path).Int("rules", len(ps.Rules)).Msg("retention policy reloaded")
	return nil
}

// Reloaded signals after each successful reload triggered by a file event.
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

func (w *Watcher) processEvents() {
	name := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Error().Err(err).Msg("retention policy reload failed, keeping previous policy")
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher. Safe to call multiple times and concurrently.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsWatcher.Close()
	})
	return w.closeErr
}
