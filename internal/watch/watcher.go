package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change represents a detected file change.
type Change struct {
	// Path is the absolute path of the changed file.
	Path string

	// Rel is the path relative to the watched root.
	Rel string
}

// Config configures the file watcher.
type Config struct {
	// Root is the directory watched recursively.
	Root string

	// Ignore patterns to skip. Bare names match path segments, globs
	// match base names.
	Ignore []string

	// Debounce is the quiet period before changes are reported.
	Debounce time.Duration
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".suddenly",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher monitors a directory tree for changes using fsnotify,
// coalescing bursts behind a debounce window.
type Watcher struct {
	config   Config
	onChange func(Change)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a new file watcher.
func New(config Config) *Watcher {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	return &Watcher{config: config}
}

// OnChange sets the callback for file changes.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start begins watching. It blocks until the context is canceled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.markStopped()
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.config.Root); err != nil {
		w.markStopped()
		return err
	}

	pending := make(map[string]struct{})
	var flush *time.Timer
	var flushCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.markStopped()
			return ctx.Err()
		case <-stopCh:
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				w.markStopped()
				return nil
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			// New directories join the watch so nested changes keep
			// arriving.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(fw, event.Name)
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			pending[event.Name] = struct{}{}
			if flush == nil {
				flush = time.NewTimer(w.config.Debounce)
			} else {
				flush.Reset(w.config.Debounce)
			}
			flushCh = flush.C
		case <-flushCh:
			w.mu.Lock()
			callback := w.onChange
			w.mu.Unlock()

			for path := range pending {
				delete(pending, path)
				if callback == nil {
					continue
				}
				rel, err := filepath.Rel(w.config.Root, path)
				if err != nil {
					rel = path
				}
				callback(Change{Path: path, Rel: filepath.ToSlash(rel)})
			}
			flushCh = nil
		case err, ok := <-fw.Errors:
			if !ok {
				w.markStopped()
				return nil
			}
			_ = err
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) markStopped() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// addTree registers a directory and everything under it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

// shouldIgnore checks a path against the ignore patterns.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(fullPath)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			if matched, _ := filepath.Match(pattern, name); matched {
				return true
			}
			continue
		}
		if pathHasSegment(normalized, pattern) {
			return true
		}
	}

	return false
}

func pathHasSegment(path, segment string) bool {
	if segment == "" {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
