// Package watcher reports batched changes under override and base
// directories so documents can be re-resolved while they are edited.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"skref/internal/errors"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType `json:"type"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with each debounced batch.
type ChangeHandler func(events []Event)

// Config contains watcher configuration
type Config struct {
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		DebounceMs: 300,
		IgnorePatterns: []string{
			"*.tmp",
			"*.swp",
			"*~",
			".#*",
			".DS_Store",
			"*.lock",
			".git/**",
		},
	}
}

// Watcher watches override and base directories. A root that does not
// exist yet is picked up once it is created.
type Watcher struct {
	config  Config
	logger  *slog.Logger
	handler ChangeHandler
	fs      *fsnotify.Watcher
	batch   *BatchDebouncer

	mu    sync.RWMutex
	roots map[string]bool

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher. Start must be called before events are delivered.
func New(config Config, logger *slog.Logger, handler ChangeHandler) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewSkrefError(errors.InternalError, "create file watcher", err)
	}
	if config.DebounceMs <= 0 {
		config.DebounceMs = DefaultConfig().DebounceMs
	}
	w := &Watcher{
		config:  config,
		logger:  logger,
		handler: handler,
		fs:      fw,
		roots:   make(map[string]bool),
		done:    make(chan struct{}),
	}
	w.batch = NewBatchDebouncer(time.Duration(config.DebounceMs)*time.Millisecond, w.emit)
	return w, nil
}

// Start begins delivering events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("Starting file watcher", "debounceMs", w.config.DebounceMs, "roots", len(w.Roots()))
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop stops watching and drops pending events.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
		w.batch.Cancel()
		w.logger.Info("File watcher stopped")
	})
	return err
}

// AddRoot watches root and everything below it.
func (w *Watcher) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = true
	w.mu.Unlock()
	return w.attach(abs)
}

// Roots returns the watched roots, sorted.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// attach watches root recursively, or its nearest existing ancestor when
// root is missing so that its creation is noticed.
func (w *Watcher) attach(root string) error {
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return w.addRecursive(root)
	}
	dir := filepath.Dir(root)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			w.logger.Debug("Root missing, watching ancestor", "root", root, "ancestor", dir)
			return w.fs.Add(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && w.IsIgnored(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			for _, root := range w.Roots() {
				switch {
				case within(path, root):
					if err := w.addRecursive(path); err != nil {
						w.logger.Warn("Failed to watch directory", "path", path, "error", err.Error())
					}
				case within(root, path):
					if err := w.attach(root); err != nil {
						w.logger.Warn("Failed to watch root", "root", root, "error", err.Error())
					}
				}
			}
		}
	}

	if !w.inRoot(path) || w.IsIgnored(path) {
		return
	}
	w.batch.Add(Event{Type: convertOp(ev.Op), Path: path, Timestamp: time.Now()})
}

func (w *Watcher) emit(events []Event) {
	w.logger.Debug("Layer changes detected", "eventCount", len(events))
	if w.handler != nil {
		w.handler(events)
	}
}

func (w *Watcher) inRoot(path string) bool {
	for _, root := range w.Roots() {
		if within(path, root) {
			return true
		}
	}
	return false
}

// within reports whether path is root or below it. Both must be clean.
func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func convertOp(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate
	case op.Has(fsnotify.Remove):
		return EventDelete
	case op.Has(fsnotify.Rename):
		return EventRename
	default:
		return EventModify
	}
}

// IsIgnored checks if a path matches ignore patterns
func (w *Watcher) IsIgnored(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, pattern := range w.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
		// dir/** matches any path with a dir component
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if strings.Contains("/"+slashed+"/", "/"+prefix+"/") {
				return true
			}
		}
	}
	return false
}
