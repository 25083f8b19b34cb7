package multitenantengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RulesetWatcher watches a ruleset root directory laid out as one
// subdirectory per tenant (<root>/<tenantID>/*.yaml|yml|json) and
// reloads a tenant's engine when its rule files change. Changes are
// debounced per tenant so an editor save or a git checkout touching many
// files triggers one reload, not a storm.
type RulesetWatcher struct {
	root     string
	manager  *MultiTenantEngineManager
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewRulesetWatcher creates a watcher over root. Existing tenant
// subdirectories are watched immediately; subdirectories created later
// are picked up from their create events.
func NewRulesetWatcher(root string, manager *MultiTenantEngineManager, debounce time.Duration, logger *slog.Logger) (*RulesetWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &RulesetWatcher{
		root:     root,
		manager:  manager,
		watcher:  fsw,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to read ruleset root %q: %w", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fsw.Add(filepath.Join(root, entry.Name())); err != nil {
				fsw.Close()
				return nil, fmt.Errorf("failed to watch tenant directory %q: %w", entry.Name(), err)
			}
		}
	}

	return w, nil
}

// Watch processes filesystem events until ctx is cancelled. Blocking;
// run it in its own goroutine.
func (w *RulesetWatcher) Watch(ctx context.Context) error {
	w.logger.Info("ruleset watcher started",
		"root", w.root,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ruleset watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("ruleset watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher and cancels pending
// reload timers.
func (w *RulesetWatcher) Close() error {
	w.mu.Lock()
	for tenantID, timer := range w.pending {
		timer.Stop()
		delete(w.pending, tenantID)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *RulesetWatcher) handleEvent(event fsnotify.Event) {
	// A new tenant directory needs its own watch before any file events
	// inside it can arrive.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Error("failed to watch new tenant directory",
					"path", event.Name,
					"error", err,
				)
			}
		}
	}

	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	tenantID, ok := w.tenantFor(event.Name)
	if !ok {
		return
	}
	w.scheduleReload(tenantID)
}

// tenantFor maps an event path to the tenant subdirectory it belongs to.
func (w *RulesetWatcher) tenantFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	tenantID := strings.Split(filepath.ToSlash(rel), "/")[0]
	if tenantID == "" || strings.HasPrefix(tenantID, ".") {
		return "", false
	}
	return tenantID, true
}

func (w *RulesetWatcher) scheduleReload(tenantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[tenantID]; exists {
		timer.Reset(w.debounce)
		return
	}
	w.pending[tenantID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, tenantID)
		w.mu.Unlock()
		w.reload(tenantID)
	})
}

func (w *RulesetWatcher) reload(tenantID string) {
	var err error
	if w.manager.HasTenant(tenantID) {
		err = w.manager.ReloadTenant(tenantID)
	} else {
		dir := filepath.Join(w.root, tenantID)
		err = w.manager.CreateTenant(tenantID, DirSource(dir, w.logger))
	}
	if err != nil {
		// Keep serving the previous snapshot; the broken ruleset only
		// surfaces in logs until the files are fixed.
		w.logger.Error("ruleset reload failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}
	w.logger.Info("ruleset reloaded from files", "tenant_id", tenantID)
}
