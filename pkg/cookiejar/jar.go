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
	"sync"
	"time"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar/archive"
	"github.com/cookiemonster/cookiemonster/pkg/logging"
)

// ErrTimeout is returned by NextForProcessing when the optional deadline
// elapses before any object becomes dirty. Callers should treat it as a
// benign wakeup and retry (spec.md §5 "Cancellation / timeouts").
var ErrTimeout = errors.New("cookiejar: next_for_processing timed out")

// Listener is invoked after an id transitions into the dirty set. Jar
// invocations are serialized and ordered consistently with the mark_dirty
// calls that triggered them (spec.md §4.3, §5). A panicking listener is
// recovered and logged; it never affects other listeners or the producer.
type Listener func(id ID)

// Option configures a CookieJar at construction time.
type Option func(*CookieJar)

// WithDebug disables the unbounded retry-with-backoff wrapper so
// backing-store errors surface immediately (spec.md §9).
func WithDebug(debug bool) Option {
	return func(j *CookieJar) { j.retry = newRetryPolicy(debug) }
}

// WithArchiver attaches a best-effort archive client that exports a
// cookie's enrichment log after each mark_complete that does not requeue
// the cookie (SPEC_FULL.md §4.3).
func WithArchiver(a *archive.Client) Option {
	return func(j *CookieJar) { j.archiver = a }
}

// WithLogger attaches a logger; defaults to logging.Default().
func WithLogger(l *logging.Logger) Option {
	return func(j *CookieJar) { j.logger = l }
}

// CookieJar is the persistent, concurrent, listener-driven knowledge store
// described in spec.md §4.3: a durable enrichment log per object plus an
// in-memory dirty queue with at-most-one-in-flight reservation semantics.
type CookieJar struct {
	store    Store
	locks    *lockTable
	retry    *retryPolicy
	archiver *archive.Client
	logger   *logging.Logger

	mu         sync.Mutex
	dirtySet   map[ID]struct{}
	dirtyOrder []ID
	inFlight   map[ID]time.Time
	redirty    map[ID]struct{}
	notifyCh   chan struct{}

	listenersMu sync.Mutex
	listeners   []Listener
	events      chan ID

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a CookieJar over store, seeding the dirty queue from any
// object whose persisted processing_state is not "complete" (crash
// recovery, spec.md §4.3 "Initial boot").
func New(store Store, opts ...Option) (*CookieJar, error) {
	j := &CookieJar{
		store:      store,
		locks:      newLockTable(),
		retry:      newRetryPolicy(false),
		logger:     logging.Default(),
		dirtySet:   make(map[ID]struct{}),
		inFlight:   make(map[ID]time.Time),
		redirty:    make(map[ID]struct{}),
		notifyCh:   make(chan struct{}, 1),
		events:     make(chan ID, 4096),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	ids, err := store.ScanNotComplete(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cookiejar: boot scan: %w", err)
	}
	for _, id := range ids {
		j.dirtySet[id] = struct{}{}
		j.dirtyOrder = append(j.dirtyOrder, id)
	}

	j.wg.Add(1)
	go j.listenerLoop()
	j.reportQueueDepth()

	return j, nil
}

// Close stops the listener goroutine and closes the backing store.
func (j *CookieJar) Close() error {
	close(j.stopCh)
	j.wg.Wait()
	return j.store.Close()
}

// Enrich appends enrichment to id's durable log under optimistic
// concurrency (retrying on revision conflict until it succeeds) and then
// marks id dirty (spec.md §4.3). Use this for enrichments that should
// re-enter processing, i.e. an EnrichmentLoader's output.
func (j *CookieJar) Enrich(ctx context.Context, id ID, e Enrichment) error {
	_, err := j.appendEnrichment(ctx, id, e)
	if err != nil {
		return err
	}
	j.MarkDirty(id)
	return nil
}

// Append appends enrichment to id's durable log, same as Enrich, but does
// not mark id dirty. Use this for bookkeeping entries — the
// RuleApplicationLog a fired rule leaves behind — that must not cause the
// object they describe to re-enter processing.
func (j *CookieJar) Append(ctx context.Context, id ID, e Enrichment) error {
	_, err := j.appendEnrichment(ctx, id, e)
	return err
}

func (j *CookieJar) appendEnrichment(ctx context.Context, id ID, e Enrichment) (Document, error) {
	return j.mutateDocument(ctx, id, func(d *Document) {
		d.Enrichments = append(append([]Enrichment{}, d.Enrichments...), e)
		if d.ProcessingState == "" {
			d.ProcessingState = StateDirty
		}
	})
}

// setProcessingState persists state as id's best-effort ProcessingState
// (spec.md §6), used only so boot recovery (ScanNotComplete) can tell a
// finished object from one still awaiting processing.
func (j *CookieJar) setProcessingState(ctx context.Context, id ID, state ProcessingState) error {
	_, err := j.mutateDocument(ctx, id, func(d *Document) {
		d.ProcessingState = state
	})
	return err
}

// mutateDocument reads id's current document (or a fresh zero value if
// absent), applies mutate, and writes it back under optimistic concurrency,
// retrying on revision conflict until the write succeeds.
func (j *CookieJar) mutateDocument(ctx context.Context, id ID, mutate func(*Document)) (Document, error) {
	unlock := j.locks.lock(id)
	defer unlock()

	for {
		doc, err := j.retry.do(ctx, func() (Document, error) {
			existing, getErr := j.store.Get(ctx, id)
			if getErr != nil {
				if IsNotFound(getErr) {
					existing = Document{ID: id, ProcessingState: StateDirty}
				} else {
					return Document{}, getErr
				}
			}

			updated := existing
			mutate(&updated)

			rev, putErr := j.store.Put(ctx, updated, existing.Revision)
			if putErr != nil {
				if IsConflict(putErr) {
					return Document{}, permanent(putErr)
				}
				return Document{}, putErr
			}
			updated.Revision = rev
			return updated, nil
		})

		switch {
		case err == nil:
			return doc, nil
		case IsConflict(err):
			continue
		default:
			return Document{}, err
		}
	}
}

// MarkDirty adds id to the dirty set, or — if id is currently in flight —
// records it in redirty so it is requeued on release (spec.md §4.3). A
// no-op if id is already dirty.
func (j *CookieJar) MarkDirty(id ID) {
	j.mu.Lock()
	transitioned := j.markDirtyLocked(id)
	j.mu.Unlock()
	j.reportQueueDepth()

	if transitioned {
		j.signal()
		j.notifyListeners(id)
	}
}

// markDirtyLocked performs the dirty/in_flight/redirty state transition.
// Caller must hold j.mu.
func (j *CookieJar) markDirtyLocked(id ID) (transitioned bool) {
	if _, inFlight := j.inFlight[id]; inFlight {
		j.redirty[id] = struct{}{}
		return false
	}
	if _, already := j.dirtySet[id]; already {
		return false
	}
	j.dirtySet[id] = struct{}{}
	j.dirtyOrder = append(j.dirtyOrder, id)
	return true
}

func (j *CookieJar) signal() {
	select {
	case j.notifyCh <- struct{}{}:
	default:
	}
}

// NextForProcessing blocks until an id is dirty or timeout elapses (pass 0
// for no timeout), reserves it into in_flight, and returns it. Selection is
// FIFO by the wall-clock instant of the mark_dirty that transitioned the id
// into dirty (spec.md §4.3, §5).
func (j *CookieJar) NextForProcessing(ctx context.Context, timeout time.Duration) (ID, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		j.mu.Lock()
		if len(j.dirtyOrder) > 0 {
			id := j.dirtyOrder[0]
			j.dirtyOrder = j.dirtyOrder[1:]
			delete(j.dirtySet, id)
			j.inFlight[id] = time.Now()
			j.mu.Unlock()
			j.reportQueueDepth()
			if err := j.setProcessingState(ctx, id, StateInFlight); err != nil {
				j.logger.Warn("persisting in_flight state failed", "id", string(id), "error", err.Error())
			}
			return id, nil
		}
		j.mu.Unlock()

		select {
		case <-j.notifyCh:
			continue
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeoutCh:
			return "", ErrTimeout
		}
	}
}

// Fetch reads the full durable cookie for id. The bool is false if id has
// no durable record.
func (j *CookieJar) Fetch(ctx context.Context, id ID) (Cookie, bool, error) {
	doc, err := j.retry.do(ctx, func() (Document, error) {
		d, getErr := j.store.Get(ctx, id)
		if getErr != nil && IsNotFound(getErr) {
			return Document{}, permanent(getErr)
		}
		return d, getErr
	})
	if err != nil {
		if IsNotFound(err) {
			return Cookie{}, false, nil
		}
		return Cookie{}, false, err
	}
	return Cookie{ID: doc.ID, Enrichments: doc.Enrichments}, true, nil
}

// Delete removes id's durable log and any queue membership. A worker mid
// processing will see a subsequent Fetch return absent and must treat the
// object as gone.
func (j *CookieJar) Delete(ctx context.Context, id ID) error {
	unlock := j.locks.lock(id)
	defer unlock()

	if err := j.retry.doVoid(ctx, func() error { return j.store.Delete(ctx, id) }); err != nil {
		return err
	}

	j.mu.Lock()
	if _, ok := j.dirtySet[id]; ok {
		delete(j.dirtySet, id)
		j.removeFromOrderLocked(id)
	}
	delete(j.redirty, id)
	j.mu.Unlock()
	j.reportQueueDepth()
	return nil
}

func (j *CookieJar) removeFromOrderLocked(id ID) {
	for i, queued := range j.dirtyOrder {
		if queued == id {
			j.dirtyOrder = append(j.dirtyOrder[:i], j.dirtyOrder[i+1:]...)
			return
		}
	}
}

// MarkComplete requires id in in_flight. It removes id from in_flight; if
// id was redirtied while in flight, it is moved into dirty atomically
// (spec.md §4.3), and the object is not actually done yet. Only when id
// does not requeue is its persisted processing_state set to "complete"
// (spec.md §4.3 "Initial boot") — this is what lets boot recovery exclude
// genuinely finished objects. On success, the optional archiver is given a
// best-effort chance to export the cookie's current log.
func (j *CookieJar) MarkComplete(ctx context.Context, id ID) error {
	requeued, err := j.release(id, false)
	if err != nil {
		return err
	}
	if requeued {
		return nil
	}
	if err := j.setProcessingState(ctx, id, StateComplete); err != nil {
		j.logger.Warn("persisting complete state failed", "id", string(id), "error", err.Error())
	}
	j.archiveAsync(ctx, id)
	return nil
}

// MarkFailed requires id in in_flight. As MarkComplete, but if requeue is
// true, id is unconditionally marked dirty regardless of its redirty
// state (spec.md §4.3), and its persisted state is left as "in_flight"
// rather than advanced to "complete".
func (j *CookieJar) MarkFailed(id ID, requeue bool) error {
	_, err := j.release(id, requeue)
	return err
}

// release removes id from in_flight and, if it was redirtied while in
// flight or requeue is set, moves it back into dirty. requeued reports
// which of those happened, so MarkComplete can tell a genuine completion
// from a requeue.
func (j *CookieJar) release(id ID, requeue bool) (requeued bool, err error) {
	j.mu.Lock()
	if _, ok := j.inFlight[id]; !ok {
		j.mu.Unlock()
		return false, fmt.Errorf("cookiejar: %q is not in flight", id)
	}
	delete(j.inFlight, id)

	_, wasRedirty := j.redirty[id]
	delete(j.redirty, id)
	requeued = wasRedirty || requeue

	transitioned := false
	if requeued && j.markDirtyLocked(id) {
		transitioned = true
	}
	j.mu.Unlock()
	j.reportQueueDepth()

	if transitioned {
		j.signal()
		j.notifyListeners(id)
	}
	return requeued, nil
}

// Length reports the current size of the dirty and in-flight sets.
func (j *CookieJar) Length() (dirty, inFlight int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.dirtySet), len(j.inFlight)
}

// AddListener registers fn to be invoked after every successful mark_dirty
// that transitions an id into dirty.
func (j *CookieJar) AddListener(fn Listener) {
	j.listenersMu.Lock()
	defer j.listenersMu.Unlock()
	j.listeners = append(j.listeners, fn)
}

func (j *CookieJar) notifyListeners(id ID) {
	select {
	case j.events <- id:
	case <-j.stopCh:
	}
}

func (j *CookieJar) listenerLoop() {
	defer j.wg.Done()
	for {
		select {
		case id := <-j.events:
			j.dispatch(id)
		case <-j.stopCh:
			return
		}
	}
}

func (j *CookieJar) dispatch(id ID) {
	j.listenersMu.Lock()
	fns := append([]Listener(nil), j.listeners...)
	j.listenersMu.Unlock()

	for _, fn := range fns {
		j.callListener(fn, id)
	}
}

func (j *CookieJar) callListener(fn Listener, id ID) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("cookiejar listener panicked", "id", string(id), "panic", r)
		}
	}()
	fn(id)
}

func (j *CookieJar) archiveAsync(ctx context.Context, id ID) {
	if j.archiver == nil {
		return
	}
	cookie, ok, err := j.Fetch(ctx, id)
	if err != nil || !ok {
		return
	}
	go func() {
		if err := j.archiver.ArchiveCookie(context.Background(), string(id), cookie); err != nil {
			j.logger.Warn("cookie archive failed", "id", string(id), "error", err.Error())
		}
	}()
}
