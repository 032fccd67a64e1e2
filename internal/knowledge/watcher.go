// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher is a caching Loader backed by fsnotify. The assembled blob
// is computed lazily and invalidated whenever a file under the
// knowledge directory changes, with debounce so a burst of writes
// causes one reload at most.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.RWMutex
	blob  string
	valid bool
	dirty time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a Watcher over dir. Call Watch to start event
// processing and Close to release the underlying watcher.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		watcher:  fsw,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch registers the knowledge directory and starts the event loop.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

// Knowledge implements Loader. It returns the cached blob, reloading
// if an invalidation has settled past the debounce window.
func (w *Watcher) Knowledge() string {
	w.mu.RLock()
	if w.valid && w.dirty.IsZero() {
		blob := w.blob
		w.mu.RUnlock()
		return blob
	}
	valid, blob, dirty := w.valid, w.blob, w.dirty
	w.mu.RUnlock()

	// Serve the stale blob while inside the debounce window.
	if valid && !dirty.IsZero() && time.Since(dirty) < w.debounce {
		return blob
	}

	fresh := Load(w.dir)
	w.mu.Lock()
	w.blob = fresh
	w.valid = true
	w.dirty = time.Time{}
	w.mu.Unlock()
	return fresh
}

// Invalidate marks the cache stale. The dirty timestamp alone carries
// staleness; a previously loaded blob stays servable through the
// debounce window. Exposed for tests and for callers that mutate the
// knowledge directory themselves.
func (w *Watcher) Invalidate() {
	w.mu.Lock()
	w.dirty = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processEvents() {
	defer func() {
		// A panicking watcher must not take the server down.
		_ = recover()
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.Invalidate()
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Errors invalidate too; the next Knowledge call falls
			// back to a full re-read.
			w.Invalidate()
		}
	}
}
