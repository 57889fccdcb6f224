// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cookiejar

import (
	"context"
	"errors"
	"fmt"
)

// ProcessingState is the best-effort, persisted state used only for crash
// recovery (spec.md §6). Authoritative dirty state lives in memory.
type ProcessingState string

const (
	StateDirty     ProcessingState = "dirty"
	StateInFlight  ProcessingState = "in_flight"
	StateComplete  ProcessingState = "complete"
)

// Document is the durable per-object record (spec.md §6's persisted-state
// layout): id, ordered enrichment log, best-effort processing state, and an
// opaque revision used for optimistic-concurrency writes.
type Document struct {
	ID              ID
	Enrichments     []Enrichment
	ProcessingState ProcessingState
	Revision        string
}

// ErrNotFound is returned by Store.Get/Delete when id has no durable
// record. Never retried by the retry wrapper (spec.md §7).
type ErrNotFound struct{ ID ID }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("cookiejar: %q not found", e.ID) }

// ErrConflict is returned by Store.Put when expectedRevision does not match
// the document's current revision. The caller re-reads and retries
// (spec.md §7).
type ErrConflict struct{ ID ID }

func (e *ErrConflict) Error() string { return fmt.Sprintf("cookiejar: %q revision conflict", e.ID) }

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// IsConflict reports whether err is (or wraps) ErrConflict.
func IsConflict(err error) bool {
	var e *ErrConflict
	return errors.As(err, &e)
}

// Store is the durable backing document store behind the jar. The default
// implementation (BadgerStore) stands in for the out-of-scope CouchDB wire
// protocol named in spec.md §1.
//
// All methods may return transport-level errors (disk I/O, store closed)
// which the jar's retry wrapper retries with backoff; ErrNotFound and
// ErrConflict are domain errors surfaced directly, never retried.
type Store interface {
	// Get reads the full durable document for id. Returns ErrNotFound if
	// absent.
	Get(ctx context.Context, id ID) (Document, error)

	// Put writes doc, succeeding only if the store's current revision for
	// doc.ID equals expectedRevision (empty expectedRevision means "must not
	// already exist"). Returns the new revision on success, ErrConflict on
	// mismatch.
	Put(ctx context.Context, doc Document, expectedRevision string) (newRevision string, err error)

	// Delete removes the durable document for id. A missing id is not an
	// error (delete is idempotent).
	Delete(ctx context.Context, id ID) error

	// ScanNotComplete returns every id whose persisted ProcessingState is
	// not StateComplete, for boot recovery (spec.md §4.3 "Initial boot").
	ScanNotComplete(ctx context.Context) ([]ID, error)

	// Close releases resources held by the store.
	Close() error
}
