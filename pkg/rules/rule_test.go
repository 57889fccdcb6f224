// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
)

type fakeNotifier struct {
	received []cookiejar.Notification
}

func (f *fakeNotifier) Broadcast(n cookiejar.Notification) {
	f.received = append(f.received, n)
}

func alwaysFalseRule(id string, priority int) Rule {
	return Rule{
		ID:        id,
		Priority:  priority,
		Predicate: func(cookiejar.Cookie) bool { return false },
		Action:    func(cookiejar.Cookie) RuleAction { return RuleAction{} },
	}
}

func TestEvaluateTerminatingRuleStopsEvaluation(t *testing.T) {
	notifier := &fakeNotifier{}
	var enriched []cookiejar.Enrichment

	ruleA := Rule{
		ID:        "a",
		Priority:  10,
		Predicate: func(cookiejar.Cookie) bool { return true },
		Action: func(cookiejar.Cookie) RuleAction {
			return RuleAction{Terminate: true, Notifications: []cookiejar.Notification{{Topic: "t"}}}
		},
	}
	ruleB := Rule{
		ID:        "b",
		Priority:  5,
		Predicate: func(cookiejar.Cookie) bool { t.Fatal("lower priority rule must not run after terminate"); return false },
		Action:    func(cookiejar.Cookie) RuleAction { return RuleAction{} },
	}

	result := Evaluate(cookiejar.Cookie{ID: "c1"}, []Rule{ruleA, ruleB}, nil, notifier,
		func(e cookiejar.Enrichment) { enriched = append(enriched, e) },
		func(cookiejar.Enrichment) { t.Fatal("enrich must not be called for a rule firing") },
		nil)

	assert.Equal(t, Completed, result.Outcome)
	assert.Len(t, notifier.received, 1)
	require.Len(t, enriched, 1)
	assert.Equal(t, cookiejar.ReservedSource, enriched[0].Source)
}

func TestEvaluateNonTerminatingRuleContinuesToNext(t *testing.T) {
	notifier := &fakeNotifier{}
	var enriched []cookiejar.Enrichment
	fired := []string{}

	ruleA := Rule{
		ID:        "a",
		Priority:  10,
		Predicate: func(cookiejar.Cookie) bool { return true },
		Action: func(cookiejar.Cookie) RuleAction {
			fired = append(fired, "a")
			return RuleAction{Terminate: false}
		},
	}
	ruleB := Rule{
		ID:        "b",
		Priority:  5,
		Predicate: func(cookiejar.Cookie) bool { return true },
		Action: func(cookiejar.Cookie) RuleAction {
			fired = append(fired, "b")
			return RuleAction{Terminate: true}
		},
	}

	result := Evaluate(cookiejar.Cookie{}, []Rule{ruleA, ruleB}, nil, notifier,
		func(e cookiejar.Enrichment) { enriched = append(enriched, e) },
		func(cookiejar.Enrichment) { t.Fatal("enrich must not be called for a rule firing") },
		nil)

	assert.Equal(t, Completed, result.Outcome)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Len(t, enriched, 2)
}

func TestEvaluateFallsThroughToLoaderWhenNoRuleTerminates(t *testing.T) {
	notifier := &fakeNotifier{}
	var enriched []cookiejar.Enrichment

	rule := alwaysFalseRule("a", 10)
	loader := EnrichmentLoader{
		ID:        "geo",
		Priority:  1,
		CanEnrich: func(cookiejar.Cookie) bool { return true },
		Load: func(cookiejar.Cookie) cookiejar.Enrichment {
			return cookiejar.Enrichment{Source: "geo"}
		},
	}

	result := Evaluate(cookiejar.Cookie{}, []Rule{rule}, []EnrichmentLoader{loader}, notifier,
		func(cookiejar.Enrichment) {},
		func(e cookiejar.Enrichment) { enriched = append(enriched, e) },
		nil)

	assert.Equal(t, NeedsEnrichment, result.Outcome)
	assert.Equal(t, "geo", result.LoaderID)
	require.Len(t, enriched, 1)
	assert.Equal(t, "geo", enriched[0].Source)
}

func TestEvaluateUnprocessableWhenNothingApplies(t *testing.T) {
	rule := alwaysFalseRule("a", 10)
	loader := EnrichmentLoader{
		ID:        "geo",
		CanEnrich: func(cookiejar.Cookie) bool { return false },
		Load:      func(cookiejar.Cookie) cookiejar.Enrichment { return cookiejar.Enrichment{} },
	}

	result := Evaluate(cookiejar.Cookie{}, []Rule{rule}, []EnrichmentLoader{loader}, &fakeNotifier{},
		func(cookiejar.Enrichment) {}, func(cookiejar.Enrichment) {}, nil)

	assert.Equal(t, Unprocessable, result.Outcome)
}

func TestEvaluateLoaderPriorityOrderFirstApplicableWins(t *testing.T) {
	low := EnrichmentLoader{
		ID:        "low",
		Priority:  1,
		CanEnrich: func(cookiejar.Cookie) bool { return true },
		Load:      func(cookiejar.Cookie) cookiejar.Enrichment { return cookiejar.Enrichment{Source: "low"} },
	}
	high := EnrichmentLoader{
		ID:        "high",
		Priority:  100,
		CanEnrich: func(cookiejar.Cookie) bool { return true },
		Load:      func(cookiejar.Cookie) cookiejar.Enrichment { return cookiejar.Enrichment{Source: "high"} },
	}

	var enriched cookiejar.Enrichment
	result := Evaluate(cookiejar.Cookie{}, nil, []EnrichmentLoader{high, low}, &fakeNotifier{},
		func(cookiejar.Enrichment) {},
		func(e cookiejar.Enrichment) { enriched = e },
		nil)

	assert.Equal(t, "high", result.LoaderID)
	assert.Equal(t, "high", enriched.Source)
}

func TestEvaluatePanickingPredicateIsIsolated(t *testing.T) {
	var reported []string

	panicking := Rule{
		ID:        "bad",
		Priority:  10,
		Predicate: func(cookiejar.Cookie) bool { panic("boom") },
		Action:    func(cookiejar.Cookie) RuleAction { return RuleAction{} },
	}
	good := Rule{
		ID:        "good",
		Priority:  5,
		Predicate: func(cookiejar.Cookie) bool { return true },
		Action:    func(cookiejar.Cookie) RuleAction { return RuleAction{Terminate: true} },
	}

	result := Evaluate(cookiejar.Cookie{}, []Rule{panicking, good}, nil, &fakeNotifier{},
		func(cookiejar.Enrichment) {},
		func(cookiejar.Enrichment) {},
		func(kind, id string, err error) { reported = append(reported, kind+":"+id) })

	assert.Equal(t, Completed, result.Outcome)
	assert.Equal(t, []string{"rule:bad"}, reported)
}

func TestEvaluatePanickingActionIsIsolated(t *testing.T) {
	var reported []string

	panicking := Rule{
		ID:        "bad",
		Priority:  10,
		Predicate: func(cookiejar.Cookie) bool { return true },
		Action:    func(cookiejar.Cookie) RuleAction { panic(errors.New("boom")) },
	}

	result := Evaluate(cookiejar.Cookie{}, []Rule{panicking}, nil, &fakeNotifier{},
		func(cookiejar.Enrichment) {},
		func(cookiejar.Enrichment) {},
		func(kind, id string, err error) { reported = append(reported, kind+":"+id) })

	assert.Equal(t, Unprocessable, result.Outcome)
	assert.Equal(t, []string{"rule:bad"}, reported)
}

func TestEvaluatePanickingLoaderIsIsolated(t *testing.T) {
	var reported []string

	panicking := EnrichmentLoader{
		ID:        "bad",
		Priority:  10,
		CanEnrich: func(cookiejar.Cookie) bool { return true },
		Load:      func(cookiejar.Cookie) cookiejar.Enrichment { panic("boom") },
	}
	good := EnrichmentLoader{
		ID:        "good",
		Priority:  5,
		CanEnrich: func(cookiejar.Cookie) bool { return true },
		Load:      func(cookiejar.Cookie) cookiejar.Enrichment { return cookiejar.Enrichment{Source: "good"} },
	}

	var enriched cookiejar.Enrichment
	result := Evaluate(cookiejar.Cookie{}, nil, []EnrichmentLoader{panicking, good}, &fakeNotifier{},
		func(cookiejar.Enrichment) {},
		func(e cookiejar.Enrichment) { enriched = e },
		func(kind, id string, err error) { reported = append(reported, kind+":"+id) })

	assert.Equal(t, NeedsEnrichment, result.Outcome)
	assert.Equal(t, "good", enriched.Source)
	assert.Equal(t, []string{"loader:bad"}, reported)
}

func TestOutcomeStringValues(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "needs_enrichment", NeedsEnrichment.String())
	assert.Equal(t, "unprocessable", Unprocessable.String())
}
