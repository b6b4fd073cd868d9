// Package watcher watches directories for edits to synced scripts and reports
// each edited script once its writes have settled.
package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ascending/ascend/internal/nbformat"
)

// Config holds watcher configuration.
type Config struct {
	// Extension is the pair infix; files ending in .<Extension>.py are
	// watched (default: sync).
	Extension string

	// Debounce is how long a file must stay quiet before it is reported.
	// Editors often write a file several times per save.
	Debounce time.Duration

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Extension: nbformat.DefaultExtension,
		Debounce:  100 * time.Millisecond,
		Logger:    log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// Watcher reports settled edits of synced scripts.
type Watcher struct {
	watcher  *fsnotify.Watcher
	config   *Config
	onChange func(path string)

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	mu      sync.Mutex
	running bool
	dirs    []string
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher that calls onChange with the absolute path of every
// script whose writes have settled. onChange runs on the watcher's own
// goroutine, one call at a time.
//
// The watcher must be started with Start() before it reports anything.
func New(config *Config, onChange func(path string)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Extension == "" {
		config.Extension = nbformat.DefaultExtension
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:     fw,
		config:      config,
		onChange:    onChange,
		changeQueue: make(map[string]time.Time),
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching dirs. Directories are not watched recursively.
func (w *Watcher) Start(dirs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no directories to watch")
	}

	added := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		if err := w.watcher.Add(abs); err != nil {
			for _, a := range added {
				_ = w.watcher.Remove(a)
			}
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		added = append(added, abs)
	}
	w.dirs = added

	w.config.Logger.Printf("Watching *%s in %v", nbformat.ScriptSuffix(w.config.Extension), added)

	w.running = true
	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()

	return nil
}

// Stop stops watching and waits for in-flight callbacks to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Pending returns the number of scripts waiting to settle.
func (w *Watcher) Pending() int {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	return len(w.changeQueue)
}

func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Removals have nothing to sync; an editor's rename-on-save
			// shows up as a Create of the final name.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !nbformat.IsScript(event.Name, w.config.Extension) {
				continue
			}

			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) queueChange(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	w.changeQueue[path] = time.Now()
}

// minTick floors the queue poll interval for very short debounce periods.
const minTick = time.Millisecond

func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.config.Debounce/2, minTick))
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case <-ticker.C:
			for _, path := range w.settled() {
				w.config.Logger.Printf("Processing change: %s", path)
				w.onChange(path)
			}
		}
	}
}

// settled removes and returns the queued paths that have been quiet for at
// least the debounce interval.
func (w *Watcher) settled() []string {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	now := time.Now()
	var ready []string
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.Debounce {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}
