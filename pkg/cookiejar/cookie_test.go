// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cookiejar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCookieAppendLeavesReceiverUnmodified(t *testing.T) {
	c := Cookie{ID: "a"}
	appended := c.Append(Enrichment{Source: "s1"})

	assert.Empty(t, c.Enrichments)
	assert.Len(t, appended.Enrichments, 1)
}

func TestCookieCloneIsIndependent(t *testing.T) {
	c := Cookie{ID: "a", Enrichments: []Enrichment{{Source: "s1"}}}
	clone := c.Clone()
	clone.Enrichments[0].Source = "mutated"

	assert.Equal(t, "s1", c.Enrichments[0].Source)
}

func TestCookieBySource(t *testing.T) {
	c := Cookie{Enrichments: []Enrichment{
		{Source: "a"}, {Source: "b"}, {Source: "a"},
	}}
	assert.Len(t, c.BySource("a"), 2)
	assert.Empty(t, c.BySource("missing"))
}

func TestCookieMostRecentFrom(t *testing.T) {
	t0 := time.Now()
	c := Cookie{Enrichments: []Enrichment{
		{Source: "a", Timestamp: t0},
		{Source: "a", Timestamp: t0.Add(time.Second)},
	}}
	e, ok := c.MostRecentFrom("a")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), e.Timestamp)

	_, ok = c.MostRecentFrom("missing")
	assert.False(t, ok)
}

func TestCookieSourcesFirstSeenOrder(t *testing.T) {
	c := Cookie{Enrichments: []Enrichment{
		{Source: "b"}, {Source: "a"}, {Source: "b"},
	}}
	assert.Equal(t, []string{"b", "a"}, c.Sources())
}

func TestCookieDiffSinceNewAdditionsOnly(t *testing.T) {
	t0 := time.Now()
	prior := Cookie{Enrichments: []Enrichment{{Source: "a", Timestamp: t0}}}
	current := Cookie{Enrichments: []Enrichment{
		{Source: "a", Timestamp: t0},
		{Source: "b", Timestamp: t0.Add(time.Second)},
	}}

	added := current.DiffSince(prior)
	assert.Len(t, added, 1)
	assert.Equal(t, "b", added[0].Source)
}

func TestCookieDiffSinceNoChanges(t *testing.T) {
	t0 := time.Now()
	c := Cookie{Enrichments: []Enrichment{{Source: "a", Timestamp: t0}}}
	assert.Empty(t, c.DiffSince(c))
}

func TestEnrichmentEqualComparesMetadataDeep(t *testing.T) {
	t0 := time.Now()
	a := Enrichment{Source: "s", Timestamp: t0, Metadata: map[string]any{"k": []any{"x", "y"}}}
	b := Enrichment{Source: "s", Timestamp: t0, Metadata: map[string]any{"k": []any{"x", "y"}}}
	c := Enrichment{Source: "s", Timestamp: t0, Metadata: map[string]any{"k": []any{"x", "z"}}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNewRuleApplicationLogShape(t *testing.T) {
	at := time.Now()
	e := NewRuleApplicationLog("rule-1", true, at)

	assert.Equal(t, ReservedSource, e.Source)
	assert.Equal(t, "rule-1", e.Metadata["rule_id"])
	assert.Equal(t, true, e.Metadata["terminated"])
}
