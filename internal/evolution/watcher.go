package evolution

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"anima/internal/logging"
)

// PolicyWatcher watches the evolution policy file and hot-reloads it into
// the engine on change. Editors save via rename, so the watcher monitors
// the containing directory and filters on the file name.
type PolicyWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	engine      *Engine
	path        string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	reloads int
	errors  int
}

// NewPolicyWatcher builds a watcher for the policy file at path.
func NewPolicyWatcher(path string, engine *Engine) (*PolicyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{
		watcher:     w,
		engine:      engine,
		path:        path,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (pw *PolicyWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	dir := filepath.Dir(pw.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.EvolutionWarn("policy watcher: create dir %s: %v (continuing)", dir, err)
	}
	if err := pw.watcher.Add(dir); err != nil {
		logging.EvolutionWarn("policy watcher: initial watch failed: %v", err)
	} else {
		logging.Evolution("policy watcher: watching %s", pw.path)
	}

	go pw.run(ctx)
	return nil
}

// Stop stops the event loop if it is running and releases the watch
// handle. Safe to call more than once.
func (pw *PolicyWatcher) Stop() {
	pw.mu.Lock()
	running := pw.running
	pw.running = false
	pw.mu.Unlock()

	if running {
		close(pw.stopCh)
		<-pw.doneCh
	}
	if err := pw.watcher.Close(); err != nil {
		logging.EvolutionWarn("policy watcher: close: %v", err)
	}
}

func (pw *PolicyWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pw.stopCh:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handleEvent(event)
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.EvolutionWarn("policy watcher: %v", err)
			pw.mu.Lock()
			pw.errors++
			pw.mu.Unlock()
		case <-debounceTicker.C:
			pw.processDebounced()
		}
	}
}

func (pw *PolicyWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	pw.mu.Lock()
	pw.debounceMap[event.Name] = time.Now()
	pw.mu.Unlock()
}

// processDebounced reloads once changes have settled past the debounce
// window. Rapid saves collapse into a single reload.
func (pw *PolicyWatcher) processDebounced() {
	pw.mu.Lock()
	now := time.Now()
	settled := false
	for path, eventTime := range pw.debounceMap {
		if now.Sub(eventTime) >= pw.debounceDur {
			delete(pw.debounceMap, path)
			settled = true
		}
	}
	pw.mu.Unlock()

	if settled {
		pw.Reload()
	}
}

// Reload reads the policy file and swaps it into the engine. A file that
// fails to parse leaves the active policy untouched.
func (pw *PolicyWatcher) Reload() {
	p, err := LoadPolicy(pw.path)
	if err != nil {
		logging.EvolutionWarn("policy watcher: reload %s: %v (keeping active policy)", pw.path, err)
		pw.mu.Lock()
		pw.errors++
		pw.mu.Unlock()
		return
	}
	pw.engine.SetPolicy(p)
	pw.mu.Lock()
	pw.reloads++
	pw.mu.Unlock()
}

// Reloads returns how many successful reloads have occurred.
func (pw *PolicyWatcher) Reloads() int {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.reloads
}

// IsWatching reports whether the event loop is running.
func (pw *PolicyWatcher) IsWatching() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.running
}
