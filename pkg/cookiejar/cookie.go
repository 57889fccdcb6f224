// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cookiejar is the knowledge store and dirty-queue core of Cookie
// Monster: durable per-object enrichment logs, an in-memory dirty queue with
// at-most-one-in-flight reservation semantics, and listener fan-out.
package cookiejar

import "time"

// ReservedSource is the reserved enrichment source name used for the
// auto-generated log entry recorded every time a rule fires.
const ReservedSource = "RULE_APPLICATION"

// ID identifies a tracked data object. Opaque, unique per object.
type ID string

// Enrichment is one immutable unit of knowledge about an object. Two
// enrichments are equal iff Source, Timestamp, and Metadata are all equal.
type Enrichment struct {
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Equal reports whether e and other describe the same enrichment.
func (e Enrichment) Equal(other Enrichment) bool {
	if e.Source != other.Source || !e.Timestamp.Equal(other.Timestamp) {
		return false
	}
	return metadataEqual(e.Metadata, other.Metadata)
}

func metadataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !deepEqual(av, bv) {
			return false
		}
	}
	return true
}

// deepEqual compares two JSON-shaped values (map[string]any, []any,
// string, float64/bool/nil after round-tripping through encoding/json).
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && metadataEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// RuleApplicationMetadata is the shape of the Metadata map recorded in a
// RULE_APPLICATION enrichment (spec.md §3).
type RuleApplicationMetadata struct {
	RuleID     string    `json:"rule_id"`
	Timestamp  time.Time `json:"timestamp"`
	Terminated bool      `json:"terminated"`
}

// NewRuleApplicationLog builds the reserved enrichment recorded whenever a
// rule fires.
func NewRuleApplicationLog(ruleID string, terminated bool, at time.Time) Enrichment {
	return Enrichment{
		Source:    ReservedSource,
		Timestamp: at,
		Metadata: map[string]any{
			"rule_id":    ruleID,
			"timestamp":  at.Format(time.RFC3339Nano),
			"terminated": terminated,
		},
	}
}

// Cookie is the full accumulated knowledge about one data object: its id and
// its ordered enrichment log. Cookie carries no other mutable state; derived
// facts (e.g. "sources seen") are computed from Enrichments on demand.
type Cookie struct {
	ID          ID           `json:"id"`
	Enrichments []Enrichment `json:"enrichments"`
}

// Clone returns a copy of the cookie with its own Enrichments slice, so
// appending to or replacing entries of the copy leaves the original
// unchanged (the processor appends to a cookie's in-memory copy while
// evaluating rules/loaders without racing the jar's own state). Each
// Enrichment's Metadata map is shared with the original, not copied.
func (c Cookie) Clone() Cookie {
	out := Cookie{ID: c.ID, Enrichments: make([]Enrichment, len(c.Enrichments))}
	copy(out.Enrichments, c.Enrichments)
	return out
}

// Append returns a new Cookie with e appended to the enrichment log. The
// receiver is left unmodified.
func (c Cookie) Append(e Enrichment) Cookie {
	out := c.Clone()
	out.Enrichments = append(out.Enrichments, e)
	return out
}

// BySource returns every enrichment recorded under the given source, in
// insertion order.
func (c Cookie) BySource(source string) []Enrichment {
	var out []Enrichment
	for _, e := range c.Enrichments {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// MostRecentFrom returns the last-recorded enrichment from source, if any.
func (c Cookie) MostRecentFrom(source string) (Enrichment, bool) {
	for i := len(c.Enrichments) - 1; i >= 0; i-- {
		if c.Enrichments[i].Source == source {
			return c.Enrichments[i], true
		}
	}
	return Enrichment{}, false
}

// Sources returns the distinct set of enrichment sources seen on this
// cookie, in first-seen order.
func (c Cookie) Sources() []string {
	seen := make(map[string]bool, len(c.Enrichments))
	var out []string
	for _, e := range c.Enrichments {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	return out
}

// DiffSince returns the enrichments present in c but absent from prior,
// keyed by enrichment equality (source, timestamp, metadata). Order is
// preserved from c's log. Duplicates across sources are handled by
// consuming matched entries from prior at most once each.
func (c Cookie) DiffSince(prior Cookie) []Enrichment {
	remaining := make([]Enrichment, len(prior.Enrichments))
	copy(remaining, prior.Enrichments)

	var added []Enrichment
	for _, e := range c.Enrichments {
		matched := -1
		for i, p := range remaining {
			if p.Equal(e) {
				matched = i
				break
			}
		}
		if matched >= 0 {
			remaining = append(remaining[:matched], remaining[matched+1:]...)
			continue
		}
		added = append(added, e)
	}
	return added
}
