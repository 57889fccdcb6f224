// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"fmt"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
)

// cookieToJS converts a Cookie into the plain JS object shape plug-in
// predicates/actions/loaders see: { id, enrichments: [{source, timestamp,
// metadata}, ...] }. otto.Object.Call converts this Go map to a JS object
// automatically, so no *otto.Otto reference is needed here.
func cookieToJS(cookie cookiejar.Cookie) map[string]any {
	enrichments := make([]map[string]any, len(cookie.Enrichments))
	for i, e := range cookie.Enrichments {
		enrichments[i] = map[string]any{
			"source":    e.Source,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
			"metadata":  e.Metadata,
		}
	}
	return map[string]any{
		"id":          string(cookie.ID),
		"enrichments": enrichments,
	}
}

// notificationsFromJS reads the "notifications" array off an action
// result object.
func notificationsFromJS(v otto.Value) ([]cookiejar.Notification, error) {
	if v.IsUndefined() || v.IsNull() {
		return nil, nil
	}
	obj := v.Object()
	if obj == nil {
		return nil, fmt.Errorf("notifications must be an array")
	}
	export, err := obj.Value().Export()
	if err != nil {
		return nil, fmt.Errorf("export notifications: %w", err)
	}
	raw, ok := export.([]any)
	if !ok {
		return nil, fmt.Errorf("notifications must be an array, got %T", export)
	}

	out := make([]cookiejar.Notification, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("each notification must be an object")
		}
		n := cookiejar.Notification{
			Topic:  stringField(m, "topic"),
			Sender: stringField(m, "sender"),
		}
		if payload, ok := m["payload"].(map[string]any); ok {
			n.Payload = payload
		}
		out = append(out, n)
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// ruleActionFromJS converts the object returned by a rule's action(cookie)
// call into a RuleAction.
func ruleActionFromJS(v otto.Value) (RuleAction, error) {
	obj := v.Object()
	if obj == nil {
		return RuleAction{}, fmt.Errorf("action() must return an object")
	}

	notifications, err := notificationsFieldFromJS(obj)
	if err != nil {
		return RuleAction{}, err
	}

	terminateVal, err := obj.Get("terminate")
	if err != nil {
		return RuleAction{}, fmt.Errorf("get terminate: %w", err)
	}
	terminate, _ := terminateVal.ToBoolean()

	return RuleAction{Notifications: notifications, Terminate: terminate}, nil
}

func notificationsFieldFromJS(obj *otto.Object) ([]cookiejar.Notification, error) {
	v, err := obj.Get("notifications")
	if err != nil {
		return nil, fmt.Errorf("get notifications: %w", err)
	}
	return notificationsFromJS(v)
}

// enrichmentFromJS converts the object returned by a loader's load(cookie)
// call into an Enrichment. The timestamp is always stamped by Go at call
// time, not trusted from the plug-in.
func enrichmentFromJS(v otto.Value) (cookiejar.Enrichment, error) {
	obj := v.Object()
	if obj == nil {
		return cookiejar.Enrichment{}, fmt.Errorf("load() must return an object")
	}

	sourceVal, err := obj.Get("source")
	if err != nil {
		return cookiejar.Enrichment{}, fmt.Errorf("get source: %w", err)
	}
	source, err := sourceVal.ToString()
	if err != nil {
		return cookiejar.Enrichment{}, fmt.Errorf("source must be a string: %w", err)
	}

	metadataVal, err := obj.Get("metadata")
	if err != nil {
		return cookiejar.Enrichment{}, fmt.Errorf("get metadata: %w", err)
	}
	metadata := map[string]any{}
	if !metadataVal.IsUndefined() && !metadataVal.IsNull() {
		exported, err := metadataVal.Export()
		if err != nil {
			return cookiejar.Enrichment{}, fmt.Errorf("export metadata: %w", err)
		}
		if m, ok := exported.(map[string]any); ok {
			metadata = m
		}
	}

	return cookiejar.Enrichment{
		Source:    source,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}, nil
}
