// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules implements the production-rule evaluation algorithm
// (spec.md §4.4) and the Rule / RuleAction / EnrichmentLoader types it
// operates over.
package rules

import (
	"time"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
)

// Rule is a hot-reloadable production rule: a predicate gating an action,
// ordered by priority (spec.md §3).
type Rule struct {
	ID        string
	Priority  int
	Predicate func(cookiejar.Cookie) bool
	Action    func(cookiejar.Cookie) RuleAction
}

// RuleAction is the outcome of firing a rule: notifications to broadcast
// and whether to stop evaluating lower-priority rules this pass.
type RuleAction struct {
	Notifications []cookiejar.Notification
	Terminate     bool
}

// EnrichmentLoader produces a fresh enrichment when no rule has terminated
// evaluation for a cookie (spec.md §3).
type EnrichmentLoader struct {
	ID        string
	Priority  int
	CanEnrich func(cookiejar.Cookie) bool
	Load      func(cookiejar.Cookie) cookiejar.Enrichment
}

// Notifier broadcasts a notification to every registered receiver
// (spec.md §4.2). Declared here, rather than imported from pkg/notifier,
// so rules has no dependency on the receiver registry's plug-in plumbing.
type Notifier interface {
	Broadcast(n cookiejar.Notification)
}

// Outcome is the result of evaluating one cookie against a rules/loaders
// snapshot (spec.md §4.4).
type Outcome int

const (
	// Completed means a rule fired with terminate=true.
	Completed Outcome = iota
	// NeedsEnrichment means a loader applied and appended a fresh
	// enrichment; the cookie should re-enter processing.
	NeedsEnrichment
	// Unprocessable means no rule terminated and no loader applied.
	Unprocessable
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case NeedsEnrichment:
		return "needs_enrichment"
	case Unprocessable:
		return "unprocessable"
	default:
		return "unknown"
	}
}

// Result carries the Outcome plus enough detail for the caller (the
// ProcessorManager) to act on it.
type Result struct {
	Outcome  Outcome
	LoaderID string // set when Outcome == NeedsEnrichment
}

// ErrorReporter receives isolated plug-in runtime errors (spec.md §7
// "Plug-in runtime errors") so the caller can log them with jar/worker
// context the evaluator itself does not have.
type ErrorReporter func(itemKind, itemID string, err error)

// Evaluate runs the algorithm from spec.md §4.4 against one snapshot of
// cookie knowledge. It is a pure function of its arguments plus the side
// effects of notifier.Broadcast, appendLog, and enrich — no package-level
// state — so it is directly unit-testable against fixtures.
//
// ruleSnapshot and loaderSnapshot must already be priority-sorted (registry.Snapshot
// does this). appendLog records a RuleApplicationLog entry for every rule
// that fires; it must only append to the durable log, never mark the
// object dirty, or a terminating/non-terminating rule firing would
// perpetually re-dirty its own cookie. enrich appends the loader's fresh
// enrichment and marks the object dirty so it re-enters processing
// (spec.md §4.5 step 5) — these are genuinely distinct operations on the
// jar and must not be collapsed into one callback. Evaluate does not
// mutate cookie in place since the durable copy is the jar's
// responsibility.
func Evaluate(
	cookie cookiejar.Cookie,
	ruleSnapshot []Rule,
	loaderSnapshot []EnrichmentLoader,
	notifier Notifier,
	appendLog func(cookiejar.Enrichment),
	enrich func(cookiejar.Enrichment),
	onError ErrorReporter,
) Result {
	for _, r := range ruleSnapshot {
		matched, err := safePredicate(r, cookie)
		if err != nil {
			report(onError, "rule", r.ID, err)
			continue
		}
		if !matched {
			continue
		}

		action, err := safeAction(r, cookie)
		if err != nil {
			report(onError, "rule", r.ID, err)
			continue
		}

		for _, n := range action.Notifications {
			notifier.Broadcast(n)
		}

		appendLog(cookiejar.NewRuleApplicationLog(r.ID, action.Terminate, time.Now()))

		if action.Terminate {
			return Result{Outcome: Completed}
		}
	}

	for _, l := range loaderSnapshot {
		can, err := safeCanEnrich(l, cookie)
		if err != nil {
			report(onError, "loader", l.ID, err)
			continue
		}
		if !can {
			continue
		}

		e, err := safeLoad(l, cookie)
		if err != nil {
			report(onError, "loader", l.ID, err)
			continue
		}

		enrich(e)
		return Result{Outcome: NeedsEnrichment, LoaderID: l.ID}
	}

	return Result{Outcome: Unprocessable}
}

func report(onError ErrorReporter, kind, id string, err error) {
	if onError != nil {
		onError(kind, id, err)
	}
}

func safePredicate(r Rule, cookie cookiejar.Cookie) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recoveredError(rec)
		}
	}()
	return r.Predicate(cookie), nil
}

func safeAction(r Rule, cookie cookiejar.Cookie) (action RuleAction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recoveredError(rec)
		}
	}()
	return r.Action(cookie), nil
}

func safeCanEnrich(l EnrichmentLoader, cookie cookiejar.Cookie) (can bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recoveredError(rec)
		}
	}()
	return l.CanEnrich(cookie), nil
}

func safeLoad(l EnrichmentLoader, cookie cookiejar.Cookie) (e cookiejar.Enrichment, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recoveredError(rec)
		}
	}()
	return l.Load(cookie), nil
}
