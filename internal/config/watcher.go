package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// PatternWatcher watches the pattern data file and reloads it on change.
// Consumers read the current table through Current(); reloads swap the
// pointer, so in-flight readers keep a consistent snapshot.
type PatternWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.RWMutex
	current  *Patterns
	onChange []func(*Patterns)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPatternWatcher loads the file and starts watching it. An empty path
// yields a static watcher serving the built-in defaults.
func NewPatternWatcher(path string, logger *zap.Logger) (*PatternWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &PatternWatcher{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if path == "" {
		w.current = DefaultPatterns()
		close(w.doneCh)
		return w, nil
	}

	p, err := LoadPatterns(path)
	if err != nil {
		return nil, fmt.Errorf("load initial patterns: %w", err)
	}
	w.current = p

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

// Current returns the active pattern table.
func (w *PatternWatcher) Current() *Patterns {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after each successful reload.
func (w *PatternWatcher) OnChange(fn func(*Patterns)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

// Stop shuts the watcher down.
func (w *PatternWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}

func (w *PatternWatcher) loop() {
	defer close(w.doneCh)
	defer w.watcher.Close()

	// Editors often emit bursts of events for one save; debounce them.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("pattern watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

func (w *PatternWatcher) reload() {
	p, err := LoadPatterns(w.path)
	if err != nil {
		w.logger.Warn("pattern reload failed, keeping previous tables",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = p
	callbacks := append([]func(*Patterns){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("pattern tables reloaded",
		zap.String("path", w.path),
		zap.Int("extraction_patterns", len(p.Extraction)))

	for _, fn := range callbacks {
		fn(p)
	}
}
