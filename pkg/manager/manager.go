// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package manager implements the ProcessorManager worker pool that drains
// the CookieJar's dirty queue (spec.md §4.5).
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
	"github.com/cookiemonster/cookiemonster/pkg/logging"
	"github.com/cookiemonster/cookiemonster/pkg/registry"
	"github.com/cookiemonster/cookiemonster/pkg/rules"
)

var workersAwaiting = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cookiemonster",
	Subsystem: "workers",
	Name:      "awaiting_cookie",
	Help:      "Number of workers currently blocked on next_for_processing.",
})

// WorkerState is a point-in-time snapshot of one worker, for the debug
// endpoint (spec.md §4.5).
type WorkerState struct {
	WorkerID  int
	State     string // "idle" | "awaiting_cookie" | "processing"
	CookieID  string // empty when not processing
	Since     time.Time
	StackNote string
}

// Manager owns N worker goroutines draining jar's dirty queue
// (spec.md §4.5).
type Manager struct {
	jar            *cookiejar.CookieJar
	ruleRegistry   *registry.Registry[rules.Rule]
	loaderRegistry *registry.Registry[rules.EnrichmentLoader]
	notifier       rules.Notifier
	logger         *logging.Logger

	workerCount int
	pollTimeout time.Duration

	states   []atomic.Pointer[WorkerState]
	stopping atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithWorkerCount sets N; defaults to 4.
func WithWorkerCount(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workerCount = n
		}
	}
}

// WithPollTimeout bounds how long next_for_processing blocks before a
// worker re-checks for shutdown (spec.md §5 "Cancellation / timeouts").
func WithPollTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollTimeout = d
		}
	}
}

// WithLogger attaches a logger; defaults to logging.Default().
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New constructs a Manager over jar, evaluating cookies against the given
// rule and loader registries and broadcasting through notifier.
func New(
	jar *cookiejar.CookieJar,
	ruleRegistry *registry.Registry[rules.Rule],
	loaderRegistry *registry.Registry[rules.EnrichmentLoader],
	notifier rules.Notifier,
	opts ...Option,
) *Manager {
	m := &Manager{
		jar:            jar,
		ruleRegistry:   ruleRegistry,
		loaderRegistry: loaderRegistry,
		notifier:       notifier,
		logger:         logging.Default(),
		workerCount:    4,
		pollTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the worker pool. It returns once every worker goroutine
// has been scheduled; call Wait to block until they exit.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	m.group = g
	m.states = make([]atomic.Pointer[WorkerState], m.workerCount)

	for i := 0; i < m.workerCount; i++ {
		workerID := i
		m.states[workerID].Store(&WorkerState{WorkerID: workerID, State: "idle"})
		g.Go(func() error { return m.runWorker(gctx, workerID) })
	}
}

// Wait blocks until all workers have exited, returning the first worker
// error (including a recovered panic), if any.
func (m *Manager) Wait() error {
	if m.group == nil {
		return nil
	}
	return m.group.Wait()
}

// Stop requests cooperative shutdown: in-flight workers finish their
// current cookie, then exit (spec.md §5).
func (m *Manager) Stop() {
	m.stopping.Store(true)
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) runWorker(ctx context.Context, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("manager: worker %d panicked: %v", workerID, r)
		}
	}()

	for {
		if m.stopping.Load() {
			return nil
		}

		m.setState(workerID, "awaiting_cookie", "")
		workersAwaiting.Inc()
		id, nextErr := m.jar.NextForProcessing(ctx, m.pollTimeout)
		workersAwaiting.Dec()

		if nextErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(nextErr, cookiejar.ErrTimeout) {
				continue
			}
			m.logger.Warn("worker wakeup error, retrying", "worker_id", workerID, "error", nextErr.Error())
			continue
		}

		m.setState(workerID, "processing", string(id))
		m.processOne(ctx, workerID, id)
	}
}

// processOne runs steps 2-6 of the worker loop (spec.md §4.5). A panic
// anywhere in processing is isolated to this cookie and the cookie is
// requeued via mark_failed(requeue=true).
func (m *Manager) processOne(ctx context.Context, workerID int, id cookiejar.ID) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("worker body panicked, requeueing cookie",
				"worker_id", workerID, "cookie_id", string(id), "panic", r)
			if err := m.jar.MarkFailed(id, true); err != nil {
				m.logger.Error("mark_failed after panic failed", "cookie_id", string(id), "error", err.Error())
			}
		}
	}()

	cookie, ok, err := m.jar.Fetch(ctx, id)
	if err != nil {
		m.logger.Error("fetch failed, requeueing", "cookie_id", string(id), "error", err.Error())
		_ = m.jar.MarkFailed(id, true)
		return
	}
	if !ok {
		// Deleted mid-flight: treat as gone, per spec.md §4.3 "delete".
		_ = m.jar.MarkComplete(ctx, id)
		return
	}

	ruleSnapshot := m.ruleRegistry.Snapshot()
	loaderSnapshot := m.loaderRegistry.Snapshot()

	result := rules.Evaluate(cookie, ruleSnapshot, loaderSnapshot, m.notifier,
		func(e cookiejar.Enrichment) {
			// Rule-application bookkeeping must never mark the cookie
			// dirty, or a terminating rule would perpetually re-dirty
			// and reprocess its own cookie.
			if err := m.jar.Append(ctx, id, e); err != nil {
				m.logger.Error("rule application log append failed", "cookie_id", string(id), "error", err.Error())
			}
		},
		func(e cookiejar.Enrichment) {
			if err := m.jar.Enrich(ctx, id, e); err != nil {
				m.logger.Error("enrich during processing failed", "cookie_id", string(id), "error", err.Error())
			}
		},
		func(itemKind, itemID string, err error) {
			m.logger.Warn("plug-in runtime error, item skipped",
				"kind", itemKind, "item_id", itemID, "cookie_id", string(id), "error", err.Error())
		},
	)

	switch result.Outcome {
	case rules.Completed, rules.Unprocessable:
		if err := m.jar.MarkComplete(ctx, id); err != nil {
			m.logger.Error("mark_complete failed", "cookie_id", string(id), "error", err.Error())
		}
	case rules.NeedsEnrichment:
		// The loader already appended via jar.Enrich above, which re-dirtied
		// id through the redirty machinery; releasing in_flight now lets it
		// requeue (spec.md §4.5 step 5).
		if err := m.jar.MarkComplete(ctx, id); err != nil {
			m.logger.Error("mark_complete after enrichment failed", "cookie_id", string(id), "error", err.Error())
		}
	}
}

func (m *Manager) setState(workerID int, state, cookieID string) {
	m.states[workerID].Store(&WorkerState{
		WorkerID: workerID,
		State:    state,
		CookieID: cookieID,
		Since:    time.Now(),
	})
}

// DumpThreads returns a snapshot of every worker's current state
// (spec.md §4.5 "Debug introspection"). Reading never blocks a worker
// mid-processing since each slot is an atomically-swapped pointer.
func (m *Manager) DumpThreads() []WorkerState {
	out := make([]WorkerState, 0, len(m.states))
	for i := range m.states {
		if s := m.states[i].Load(); s != nil {
			out = append(out, *s)
		}
	}
	return out
}
