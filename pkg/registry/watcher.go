// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileChange is one detected change to a plug-in file.
type FileChange struct {
	Path string
	Op   FileOp
	Time time.Time
}

// FileOp is the kind of change observed for a plug-in file.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "create"
	case FileOpWrite:
		return "write"
	case FileOpRemove:
		return "remove"
	case FileOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileChangeHandler receives one debounced, deduplicated batch of changes.
type FileChangeHandler func(changes []FileChange)

// watcher watches a plug-in directory for changes and delivers them in
// debounced batches, so a directory full of files all touched by the same
// deploy (e.g. `cp -r`) triggers one reload pass instead of one per file
// (SPEC_FULL.md §4.1).
type watcher struct {
	root          string
	watcher       *fsnotify.Watcher
	handler       FileChangeHandler
	debounce      time.Duration
	ignorePattern []string

	changes  chan FileChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// watcherOptions configures a directory watcher.
type watcherOptions struct {
	DebounceWindow time.Duration
	IgnorePatterns []string
	BufferSize     int
}

func defaultWatcherOptions() watcherOptions {
	return watcherOptions{
		DebounceWindow: 150 * time.Millisecond,
		IgnorePatterns: []string{".git", ".swp", ".tmp", "~"},
		BufferSize:     256,
	}
}

// newWatcher creates a watcher rooted at dir. handler is invoked with a
// deduplicated batch of changes once the debounce window closes.
func newWatcher(root string, handler FileChangeHandler, opts *watcherOptions) (*watcher, error) {
	if opts == nil {
		defaults := defaultWatcherOptions()
		opts = &defaults
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &watcher{
		root:          root,
		watcher:       fsw,
		handler:       handler,
		debounce:      opts.DebounceWindow,
		ignorePattern: opts.IgnorePatterns,
		changes:       make(chan FileChange, opts.BufferSize),
		done:          make(chan struct{}),
	}, nil
}

// start begins watching root and its subdirectories. Both the event
// processor and the debouncer exit when ctx is cancelled or Stop is called.
func (w *watcher) start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignorePattern {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

func (w *watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			change := FileChange{
				Path: event.Name,
				Time: time.Now(),
				Op:   convertOp(event.Op),
			}

			select {
			case w.changes <- change:
			default:
				// debouncer fell behind; drop rather than block the watch loop
			}

			if event.Has(fsnotify.Create) {
				if isDir, err := isDirectory(event.Name); err == nil && isDir {
					w.watcher.Add(event.Name)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpWrite
	}
}

func (w *watcher) debounceLoop(ctx context.Context) {
	var batch []FileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := deduplicateChanges(batch)
			if len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// deduplicateChanges keeps only the most recent change per path.
func deduplicateChanges(changes []FileChange) []FileChange {
	seen := make(map[string]int)
	result := make([]FileChange, 0, len(changes))

	for _, change := range changes {
		if idx, exists := seen[change.Path]; exists {
			result[idx] = change
		} else {
			seen[change.Path] = len(result)
			result = append(result, change)
		}
	}
	return result
}
