// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cookiejar

import "sync"

// lockTable hands out one mutex per object id so that concurrent enrich
// calls for the same id serialize and observe each other's appends
// (spec.md §4.3 "Batching"). Entry creation, acquisition, and eviction are
// all performed under the table's own mutex so the three steps are
// indivisible — spec.md §9 calls out a prior defect where this was not the
// case, leaking or double-creating per-object locks under contention.
type lockTable struct {
	mu    sync.Mutex
	locks map[ID]*refCountedMutex
}

type refCountedMutex struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[ID]*refCountedMutex)}
}

// lock acquires the per-id lock, blocking until available, and returns an
// unlock function that releases it and evicts the table entry once no
// other waiter references it.
func (t *lockTable) lock(id ID) func() {
	t.mu.Lock()
	rm, ok := t.locks[id]
	if !ok {
		rm = &refCountedMutex{}
		t.locks[id] = rm
	}
	rm.refs++
	t.mu.Unlock()

	rm.mu.Lock()

	return func() {
		rm.mu.Unlock()

		t.mu.Lock()
		rm.refs--
		if rm.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
