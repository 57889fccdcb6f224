// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package concurrency provides small bounded-concurrency primitives used by
// the registry package's directory scans.
package concurrency

import (
	"context"
	"sync"
	"time"
)

// LoadConfig bounds how aggressively the priority registry reloads plug-in
// files from disk.
type LoadConfig struct {
	// MaxConcurrentLoads is the maximum number of plug-in files evaluated
	// at once during a directory scan. Default: 8.
	MaxConcurrentLoads int

	// PerFileTimeout is a per-file evaluation time budget. The registry
	// reads only MaxConcurrentLoads; no code in this module applies
	// PerFileTimeout, so a slow plug-in file is never abandoned.
	PerFileTimeout time.Duration
}

// DefaultLoadConfig returns sensible defaults for registry directory scans.
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{
		MaxConcurrentLoads: 8,
		PerFileTimeout:     5 * time.Second,
	}
}

// Semaphore implements a counting semaphore for bounded concurrency.
//
// Thread Safety: Safe for concurrent use.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a new semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// Acquire acquires a slot, blocking until one is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release releases a slot back to the semaphore.
// Must be called after Acquire/TryAcquire succeeds.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
	default:
		panic("concurrency: semaphore release without acquire")
	}
}

// Available returns the number of currently free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}

// MapReduce processes items in parallel, bounded by pool's capacity, and
// returns one result per input item in the same order. The registry uses
// this to evaluate a batch of discovered plug-in files concurrently on
// initial scan while still attributing each result back to its source file.
//
// Type parameters:
//   - T: input item type (e.g. a discovered file path).
//   - R: per-item result type (e.g. the items it registered, or an error).
func MapReduce[T any, R any](
	ctx context.Context,
	pool *Semaphore,
	items []T,
	mapper func(ctx context.Context, item T) R,
) []R {
	results := make([]R, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Acquire(ctx); err != nil {
				var zero R
				results[i] = zero
				return
			}
			defer pool.Release()
			results[i] = mapper(ctx, item)
		}()
	}
	wg.Wait()
	return results
}
