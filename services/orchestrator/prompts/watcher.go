// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider hands out the prompt set to use for the next turn.
type Provider interface {
	Prompts() *Set
}

// Static is a Provider with a fixed set.
type Static struct {
	set *Set
}

// NewStatic wraps set; a nil set uses the embedded defaults.
func NewStatic(set *Set) *Static {
	if set == nil {
		set = Default()
	}
	return &Static{set: set}
}

func (s *Static) Prompts() *Set { return s.set }

// Watcher serves prompts from a file and reloads them when the file changes.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that save by
// rename are picked up. Events are debounced. A reload that fails to parse or
// validate is logged and the previous set stays active.
//
// # Thread Safety
//
// Prompts is safe for concurrent use; the active set is swapped atomically and
// a turn keeps the set it started with.
type Watcher struct {
	path     string
	debounce time.Duration
	current  atomic.Pointer[Set]
	watcher  *fsnotify.Watcher
	onReload func(*Set)

	closeOnce sync.Once
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload (default 250ms).
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadHook is called after every successful reload.
func WithReloadHook(fn func(*Set)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher loads path and starts watching its directory. Call Run to process
// events and Close to stop.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid prompts path: %w", err)
	}
	set, err := Load(abs)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create prompts watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{path: abs, debounce: 250 * time.Millisecond, watcher: fw}
	for _, opt := range opts {
		opt(w)
	}
	w.current.Store(set)
	slog.Info("Loaded prompts", "path", abs, "version", set.Version)
	return w, nil
}

func (w *Watcher) Prompts() *Set { return w.current.Load() }

// Run processes file events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Prompts watcher error", "error", err)
		}
	}
}

// Close stops watching. The last loaded set stays available.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) reload() {
	set, err := Load(w.path)
	if err != nil {
		slog.Error("Prompt reload failed, keeping previous prompts",
			"path", w.path,
			"version", w.current.Load().Version,
			"error", err,
		)
		return
	}
	w.current.Store(set)
	slog.Info("Reloaded prompts", "path", w.path, "version", set.Version)
	if w.onReload != nil {
		w.onReload(set)
	}
}
