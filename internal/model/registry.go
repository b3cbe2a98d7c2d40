package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

// reloadDebounce coalesces the burst of events a bundle rewrite produces.
const reloadDebounce = 500 * time.Millisecond

// Registry publishes the current bundle Set. Readers call Current once per
// unit of work and keep using that Set; Reload swaps in a whole new Set.
type Registry struct {
	root    string
	logger  *slog.Logger
	current atomic.Pointer[Set]

	mu       sync.Mutex
	onChange []func(*Set)
}

// NewRegistry loads every bundle under root. It fails only when no task has
// a usable bundle.
func NewRegistry(root string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{root: root, logger: logger}
	set, _, err := LoadAll(root, logger)
	if err != nil {
		return nil, err
	}
	r.current.Store(set)
	return r, nil
}

// NewStaticRegistry wraps a fixed Set, for callers that build bundles in memory.
func NewStaticRegistry(set *Set) *Registry {
	r := &Registry{logger: slog.Default()}
	r.current.Store(set)
	return r
}

// Current returns the active Set.
func (r *Registry) Current() *Set {
	return r.current.Load()
}

// OnChange registers a callback invoked after every successful swap.
func (r *Registry) OnChange(fn func(*Set)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Swap atomically replaces the active Set.
func (r *Registry) Swap(set *Set) {
	r.current.Store(set)
	r.mu.Lock()
	callbacks := make([]func(*Set), len(r.onChange))
	copy(callbacks, r.onChange)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn(set)
	}
}

// Reload re-reads the bundle directory. When nothing loads, the previous Set
// stays active and the error is returned.
func (r *Registry) Reload() error {
	if r.root == "" {
		return errors.New("registry has no bundle directory")
	}
	set, _, err := LoadAll(r.root, r.logger)
	if err != nil {
		return err
	}
	r.Swap(set)
	r.logger.Info("model bundles reloaded", "tasks", set.Len())
	return nil
}

// Watch reloads bundles whenever files under the bundle directory change,
// until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("bundle watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.root); err != nil {
		return fmt.Errorf("bundle watcher add %s: %w", r.root, err)
	}
	for _, task := range domain.AllTasks {
		dir := filepath.Join(r.root, task.String())
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			if err := w.Add(dir); err != nil {
				r.logger.Warn("bundle watcher add failed", "dir", dir, "error", err)
			}
		}
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				pending = timer.C
			}
		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("model bundle reload failed, keeping previous bundles", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("bundle watcher error", "error", err)
		}
	}
}
