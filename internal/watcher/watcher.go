// Package watcher reports debounced batches of source changes so the watch
// command can re-run build passes.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/splitpack/internal/logging"
)

// FileWatcher watches directory trees for changes with debouncing.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	ignore    []string
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex
}

// ChangeEvent is one changed path.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType is the kind of change.
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a path is relevant.
type FileFilter func(path string) bool

// ChangeHandler handles one debounced batch.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// Debouncer groups rapid changes into one batch per quiet period.
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewDebouncer creates a debouncer that emits after delay without events.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		events: make(chan ChangeEvent, 256),
		output: make(chan []ChangeEvent, 4),
	}
}

// NewFileWatcher creates a watcher. Directories under any ignore path are
// never watched.
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger, ignore ...string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	cleaned := make([]string, 0, len(ignore))
	for _, p := range ignore {
		if p != "" {
			cleaned = append(cleaned, filepath.Clean(p))
		}
	}

	return &FileWatcher{
		watcher:   w,
		debouncer: NewDebouncer(debounceDelay),
		ignore:    cleaned,
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a filter; every filter must accept a path.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler.
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

func (fw *FileWatcher) ignored(path string) bool {
	path = filepath.Clean(path)
	for _, p := range fw.ignore {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	base := filepath.Base(path)
	return base == "node_modules" || (strings.HasPrefix(base, ".") && base != "." && base != "..")
}

// AddRecursive watches root and every directory below it that is not
// ignored.
func (fw *FileWatcher) AddRecursive(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && fw.ignored(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Start runs the watcher until ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) {
	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)
}

// Stop releases the underlying watcher.
func (fw *FileWatcher) Stop() error {
	fw.debouncer.stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) accepts(path string) bool {
	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if fw.ignored(event.Name) {
		return
	}

	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Cannot watch new directory", "path", event.Name)
			}
		}
		return
	}
	if !fw.accepts(event.Name) {
		return
	}

	change := ChangeEvent{Path: event.Name}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}
	switch {
	case event.Has(fsnotify.Create):
		change.Type = EventTypeCreated
	case event.Has(fsnotify.Write):
		change.Type = EventTypeModified
	case event.Has(fsnotify.Remove):
		change.Type = EventTypeDeleted
	case event.Has(fsnotify.Rename):
		change.Type = EventTypeRenamed
	default:
		// Chmod alone does not change content.
		return
	}

	select {
	case fw.debouncer.events <- change:
	default:
		fw.logger.Debug(ctx, "Dropping change event, queue full", "path", change.Path)
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(ctx, events); err != nil {
					fw.logger.Error(ctx, err, "Change handler failed", "events", len(events))
				}
			}
		}
	}
}

func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.stop()
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// flush emits the pending batch, one event per path (the latest), sorted
// by path.
func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	latest := make(map[string]ChangeEvent, len(d.pending))
	for _, event := range d.pending {
		latest[event.Path] = event
	}
	events := make([]ChangeEvent, 0, len(latest))
	for _, event := range latest {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
		d.pending = d.pending[:0]
	default:
		// A build is still consuming the previous batch; keep these for
		// the next flush.
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
}

// ExtensionFilter accepts paths with one of exts.
func ExtensionFilter(exts ...string) FileFilter {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	return func(path string) bool {
		return set[strings.ToLower(filepath.Ext(path))]
	}
}

// NoEditorFilter rejects editor swap and backup files.
func NoEditorFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") && !strings.HasSuffix(base, ".swp") &&
		!strings.HasPrefix(base, ".#") && !strings.HasPrefix(base, "#")
}
