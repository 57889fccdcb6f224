// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package concurrency

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreAcquireReleaseRoundTrips(t *testing.T) {
	s := NewSemaphore(2)
	require.NoError(t, s.Acquire(context.Background()))
	assert.Equal(t, 1, s.Available())
	s.Release()
	assert.Equal(t, 2, s.Available())
}

func TestSemaphoreTryAcquireFailsWhenFull(t *testing.T) {
	s := NewSemaphore(1)
	require.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())
	s.Release()
	assert.True(t, s.TryAcquire())
}

func TestSemaphoreAcquireBlocksUntilContextCancelled(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphoreReleaseWithoutAcquirePanics(t *testing.T) {
	s := NewSemaphore(1)
	assert.Panics(t, func() { s.Release() })
}

func TestSemaphoreZeroOrNegativeCapacityDefaultsToOne(t *testing.T) {
	s := NewSemaphore(0)
	assert.Equal(t, 1, s.Available())
}

func TestMapReducePreservesOrderAndBound(t *testing.T) {
	pool := NewSemaphore(2)
	items := []int{1, 2, 3, 4, 5}

	var concurrent int32
	var maxConcurrent int32
	mapper := func(ctx context.Context, item int) int {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			max := atomic.LoadInt32(&maxConcurrent)
			if n <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return item * item
	}

	results := MapReduce(context.Background(), pool, items, mapper)
	assert.Equal(t, []int{1, 4, 9, 16, 25}, results)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 2)
}

func TestMapReduceZeroesResultOnCancelledContext(t *testing.T) {
	pool := NewSemaphore(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := MapReduce(ctx, pool, []string{"a", "b"}, func(ctx context.Context, item string) string {
		return item + item
	})
	assert.Equal(t, []string{"", ""}, results)
}
