// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry implements the hot-reloading, priority-ordered plug-in
// registry shared by the rule, enrichment-loader, and notification-receiver
// data sources (SPEC_FULL.md §4.1). One Registry instance watches one
// directory tree for files matching a filename predicate; each matching
// file is loaded in isolation and its registered items are attributed to
// that file, so a later edit or deletion can remove exactly the items that
// file contributed without disturbing any other file's items.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cookiemonster/cookiemonster/pkg/concurrency"
	"github.com/cookiemonster/cookiemonster/pkg/logging"
)

// Entry is one item produced by loading a plug-in file.
type Entry[T any] struct {
	// ID identifies the item for replace-on-reregister semantics. Leave
	// empty for item kinds with no identity (notification receivers);
	// such entries are never deduplicated against one another.
	ID       string
	Priority int
	Item     T
}

// Loader executes one plug-in file in an isolated scope and returns every
// item it registered. A non-nil error means the file failed to load; its
// items (if any were registered before the error) are discarded.
type Loader[T any] func(path string) ([]Entry[T], error)

// reconcileInterval bounds how stale the registry's view of "which files
// still exist" can get between fsnotify events (SPEC_FULL.md §4.1, §9
// "Missing-file-as-deletion").
const reconcileInterval = 10 * time.Second

type attributedItem[T any] struct {
	entry Entry[T]
	seq   uint64
	file  string
}

// Registry watches root for files matching match, loads each with load, and
// exposes a live, priority-sorted Snapshot of everything currently
// registered (spec.md §4.1).
type Registry[T any] struct {
	root      string
	match     func(path string) bool
	load      Loader[T]
	enforceID bool
	logger    *logging.Logger
	pool      *concurrency.Semaphore

	mu      sync.RWMutex
	byFile  map[string][]string
	items   map[string]attributedItem[T]
	nextSeq uint64

	watcher *watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Registry at construction time.
type Option[T any] func(*Registry[T])

// WithLogger attaches a logger; defaults to logging.Default().
func WithLogger[T any](l *logging.Logger) Option[T] {
	return func(r *Registry[T]) { r.logger = l }
}

// WithConcurrentLoads bounds how many plug-in files load concurrently
// during the initial directory scan.
func WithConcurrentLoads[T any](n int) Option[T] {
	return func(r *Registry[T]) { r.pool = concurrency.NewSemaphore(n) }
}

// New constructs a Registry. match selects which files under root are
// plug-ins of this kind; enforceID enables id-uniqueness / replace-on-
// reregister semantics (used by rule and loader registries, not receivers).
func New[T any](root string, match func(path string) bool, load Loader[T], enforceID bool, opts ...Option[T]) *Registry[T] {
	r := &Registry[T]{
		root:      root,
		match:     match,
		load:      load,
		enforceID: enforceID,
		logger:    logging.Default(),
		pool:      concurrency.NewSemaphore(concurrency.DefaultLoadConfig().MaxConcurrentLoads),
		byFile:    make(map[string][]string),
		items:     make(map[string]attributedItem[T]),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start performs the initial recursive scan, then begins watching root for
// changes. Initial loads run concurrently, bounded by the registry's pool
// (SPEC_FULL.md §4.1 "Initial directory scans").
func (r *Registry[T]) Start(ctx context.Context) error {
	var paths []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && r.match(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: initial scan of %s: %w", r.root, err)
	}

	concurrency.MapReduce(ctx, r.pool, paths, func(_ context.Context, path string) struct{} {
		r.reload(path)
		return struct{}{}
	})

	w, err := newWatcher(r.root, r.handleChanges, nil)
	if err != nil {
		return fmt.Errorf("registry: create watcher for %s: %w", r.root, err)
	}
	r.watcher = w
	if err := w.start(ctx); err != nil {
		return fmt.Errorf("registry: start watcher for %s: %w", r.root, err)
	}

	r.wg.Add(1)
	go r.reconcileLoop(ctx)

	return nil
}

// Stop releases the watcher and clears all registered state.
func (r *Registry[T]) Stop() {
	if r.watcher != nil {
		r.watcher.stop()
	}
	close(r.stopCh)
	r.wg.Wait()

	r.mu.Lock()
	r.items = make(map[string]attributedItem[T])
	r.byFile = make(map[string][]string)
	r.mu.Unlock()
}

func (r *Registry[T]) handleChanges(changes []FileChange) {
	for _, c := range changes {
		if !r.match(c.Path) {
			continue
		}
		switch c.Op {
		case FileOpRemove:
			r.clearFile(c.Path)
		default:
			r.reload(c.Path)
		}
	}
}

// reload loads path in isolation and atomically swaps its attributed
// items, so readers never observe a mix of stale and fresh items from the
// same file (spec.md §4.1 "single atomic transition").
func (r *Registry[T]) reload(path string) {
	entries, err := r.load(path)
	if err != nil {
		r.logger.Warn("plug-in load failed, file's items treated as unregistered",
			"path", path, "error", err.Error())
		r.clearFile(path)
		return
	}
	r.swapFile(path, entries)
}

// swapFile keys each item by (path, localKey) rather than bare id, so two
// files registering the same id never collide in r.items: each file's
// bookkeeping in r.byFile only ever names keys it itself owns, and clearing
// one file can never evict another file's live item. When enforceID is
// set, id-uniqueness across files is resolved separately at Snapshot/Len
// time (effectiveItemsLocked), not by this map.
func (r *Registry[T]) swapFile(path string, entries []Entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.byFile[path] {
		delete(r.items, key)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		localKey := e.ID
		if !r.enforceID || localKey == "" {
			localKey = fmt.Sprintf("#%d", r.nextSeq)
		}
		key := path + "\x00" + localKey
		r.nextSeq++
		r.items[key] = attributedItem[T]{entry: e, seq: r.nextSeq, file: path}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		delete(r.byFile, path)
	} else {
		r.byFile[path] = keys
	}
}

func (r *Registry[T]) clearFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.byFile[path] {
		delete(r.items, key)
	}
	delete(r.byFile, path)
}

// reconcileLoop periodically compares the set of attributed files against
// a fresh directory walk, clearing any file whose items are still
// attributed but which no longer exists on disk. This covers the case
// where the watcher coalesces a remove+create pair into nothing observable
// (spec.md §9 "Open question").
func (r *Registry[T]) reconcileLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reconcileOnce()
		}
	}
}

func (r *Registry[T]) reconcileOnce() {
	existing := make(map[string]struct{})
	_ = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && r.match(path) {
			existing[path] = struct{}{}
		}
		return nil
	})

	r.mu.RLock()
	var stale []string
	for path := range r.byFile {
		if _, ok := existing[path]; !ok {
			stale = append(stale, path)
		}
	}
	r.mu.RUnlock()

	for _, path := range stale {
		r.clearFile(path)
	}
}

// Snapshot returns every currently-registered item, ordered by descending
// priority with ties broken by registration order (spec.md §4.1). The
// result is a point-in-time copy; a concurrent reload does not invalidate
// an in-flight iteration over it.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.effectiveItemsLocked()
	sort.Slice(all, func(i, j int) bool {
		if all[i].entry.Priority != all[j].entry.Priority {
			return all[i].entry.Priority > all[j].entry.Priority
		}
		return all[i].seq < all[j].seq
	})

	out := make([]T, len(all))
	for i, it := range all {
		out[i] = it.entry.Item
	}
	return out
}

// Len returns the number of currently-registered items.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.effectiveItemsLocked())
}

// effectiveItemsLocked resolves id-uniqueness across files: when enforceID
// is set and the same id is registered by more than one file, only the
// most recently (re)registered one is live — replace-on-reregister
// semantics (spec.md §4.1), applied here rather than in r.items itself so
// swapFile/clearFile never have to reason about any file but their own.
// Caller must hold r.mu for reading.
func (r *Registry[T]) effectiveItemsLocked() []attributedItem[T] {
	if !r.enforceID {
		all := make([]attributedItem[T], 0, len(r.items))
		for _, it := range r.items {
			all = append(all, it)
		}
		return all
	}

	winners := make(map[string]attributedItem[T], len(r.items))
	var anonymous []attributedItem[T]
	for _, it := range r.items {
		if it.entry.ID == "" {
			anonymous = append(anonymous, it)
			continue
		}
		if cur, ok := winners[it.entry.ID]; !ok || it.seq > cur.seq {
			winners[it.entry.ID] = it
		}
	}

	all := make([]attributedItem[T], 0, len(winners)+len(anonymous))
	for _, it := range winners {
		all = append(all, it)
	}
	return append(all, anonymous...)
}
