// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// DefaultWatchDebounce is how long the watcher waits after the last
// write before reloading. Editors that save via rename-and-replace fire
// several events per save.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// result to a callback. Long-lived chat sessions use it to pick up key
// and provider changes without restarting.
type Watcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	debounce time.Duration
	mu       sync.Mutex
	pending  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  fsw,
		debounce: DefaultWatchDebounce,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching for config changes.
// RELIABILITY: The parent directory is watched, not the file itself;
// atomic saves replace the inode and would silently detach a file-level
// watch.
func (w *Watcher) Watch() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.processEvents()
	go w.processPending()

	return nil
}

// processEvents processes file system events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only the config file itself matters.
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Non-fatal
			_ = err
		}
	}
}

// processPending reloads once the debounce window has passed with no
// further writes.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

// reload re-reads the config file. A file that fails to load keeps the
// previous configuration in effect.
func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config reload failed, keeping previous settings: %v\n", err)
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
