// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemFilePredicate(path string) bool {
	return strings.HasSuffix(path, ".item")
}

// loadItemFile treats a file's contents as "id,priority" and produces a
// single Entry whose Item is the file's base name.
func loadItemFile(path string) ([]Entry[string], error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.TrimSpace(string(raw)), ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed item file %s", path)
	}
	var priority int
	if _, err := fmt.Sscanf(parts[1], "%d", &priority); err != nil {
		return nil, err
	}
	return []Entry[string]{{ID: parts[0], Priority: priority, Item: filepath.Base(path)}}, nil
}

func writeItem(t *testing.T, dir, name, id string, priority int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%s,%d", id, priority)), 0o644))
	return path
}

func waitForLen(t *testing.T, r *Registry[string], want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry length never reached %d, got %d", want, r.Len())
}

func TestRegistryInitialScanLoadsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeItem(t, dir, "a.item", "a", 10)
	writeItem(t, dir, "b.item", "b", 5)
	writeItem(t, dir, "ignored.txt", "c", 1)

	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, 2, r.Len())
}

func TestRegistrySnapshotOrdersByPriorityDescending(t *testing.T) {
	dir := t.TempDir()
	writeItem(t, dir, "low.item", "low", 1)
	writeItem(t, dir, "high.item", "high", 100)
	writeItem(t, dir, "mid.item", "mid", 50)

	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"high.item", "mid.item", "low.item"}, snap)
}

func TestRegistryHotReloadAddsFile(t *testing.T) {
	dir := t.TempDir()
	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, 0, r.Len())
	writeItem(t, dir, "new.item", "new", 1)
	waitForLen(t, r, 1)
}

func TestRegistryHotReloadReplacesOnEdit(t *testing.T) {
	dir := t.TempDir()
	path := writeItem(t, dir, "a.item", "a", 1)

	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	waitForLen(t, r, 1)
	require.NoError(t, os.WriteFile(path, []byte("a,999"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := r.Snapshot()
		if len(snap) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, r.Len(), "edit must replace, not duplicate, the file's items")
}

func TestRegistryRemoveFileClearsItems(t *testing.T) {
	dir := t.TempDir()
	path := writeItem(t, dir, "a.item", "a", 1)

	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	waitForLen(t, r, 1)
	require.NoError(t, os.Remove(path))
	waitForLen(t, r, 0)
}

func TestRegistryDuplicateIDAcrossFilesClearingOneLeavesTheOther(t *testing.T) {
	dir := t.TempDir()
	pathA := writeItem(t, dir, "a.item", "dup", 1)

	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	waitForLen(t, r, 1)
	// b.item is written after the initial scan so it is registered later.
	writeItem(t, dir, "b.item", "dup", 2)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := r.Snapshot(); len(s) == 1 && s[0] == "b.item" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b.item", snap[0], "later-registered duplicate id wins")

	require.NoError(t, os.Remove(pathA))
	waitForLen(t, r, 1)
	snap = r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b.item", snap[0], "removing the shadowed file's item must not evict the surviving duplicate")
}

func TestRegistryLoadFailureClearsFileItems(t *testing.T) {
	dir := t.TempDir()
	path := writeItem(t, dir, "a.item", "a", 1)

	r := New[string](dir, itemFilePredicate, loadItemFile, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	waitForLen(t, r, 1)
	require.NoError(t, os.WriteFile(path, []byte("malformed"), 0o644))
	waitForLen(t, r, 0)
}
