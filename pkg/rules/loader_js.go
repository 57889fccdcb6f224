// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"fmt"

	"github.com/robertkrimen/otto"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
	"github.com/cookiemonster/cookiemonster/pkg/registry"
)

// RuleFilePredicate matches "*.rule.js" files under a plug-in root
// (SPEC_FULL.md §6).
func RuleFilePredicate(path string) bool {
	return hasSuffix(path, ".rule.js")
}

// LoaderFilePredicate matches "*.loader.js" files under a plug-in root.
func LoaderFilePredicate(path string) bool {
	return hasSuffix(path, ".loader.js")
}

func hasSuffix(path, suffix string) bool {
	if len(path) < len(suffix) {
		return false
	}
	return path[len(path)-len(suffix):] == suffix
}

// LoadRuleFile is a registry.Loader[Rule]: it runs a *.rule.js file and
// converts every object passed to register() into a Rule whose predicate
// and action call back into that file's otto VM.
func LoadRuleFile(path string) ([]registry.Entry[Rule], error) {
	return registry.RunPluginFile(path, func(obj *otto.Object) (registry.Entry[Rule], error) {
		id, err := registry.GetString(obj, "id")
		if err != nil {
			return registry.Entry[Rule]{}, err
		}
		priority, err := registry.GetInt(obj, "priority")
		if err != nil {
			return registry.Entry[Rule]{}, err
		}
		if _, err := registry.GetFunction(obj, "predicate"); err != nil {
			return registry.Entry[Rule]{}, err
		}
		if _, err := registry.GetFunction(obj, "action"); err != nil {
			return registry.Entry[Rule]{}, err
		}

		rule := Rule{
			ID:       id,
			Priority: priority,
			Predicate: func(cookie cookiejar.Cookie) bool {
				result, err := obj.Call("predicate", cookieToJS(cookie))
				if err != nil {
					panic(err)
				}
				ok, _ := result.ToBoolean()
				return ok
			},
			Action: func(cookie cookiejar.Cookie) RuleAction {
				result, err := obj.Call("action", cookieToJS(cookie))
				if err != nil {
					panic(err)
				}
				action, err := ruleActionFromJS(result)
				if err != nil {
					panic(err)
				}
				return action
			},
		}

		return registry.Entry[Rule]{ID: id, Priority: priority, Item: rule}, nil
	})
}

// LoadEnrichmentLoaderFile is a registry.Loader[EnrichmentLoader] for
// *.loader.js files.
func LoadEnrichmentLoaderFile(path string) ([]registry.Entry[EnrichmentLoader], error) {
	return registry.RunPluginFile(path, func(obj *otto.Object) (registry.Entry[EnrichmentLoader], error) {
		id, err := registry.GetString(obj, "id")
		if err != nil {
			return registry.Entry[EnrichmentLoader]{}, err
		}
		priority, err := registry.GetInt(obj, "priority")
		if err != nil {
			return registry.Entry[EnrichmentLoader]{}, err
		}
		if _, err := registry.GetFunction(obj, "can_enrich"); err != nil {
			return registry.Entry[EnrichmentLoader]{}, err
		}
		if _, err := registry.GetFunction(obj, "load"); err != nil {
			return registry.Entry[EnrichmentLoader]{}, err
		}

		loader := EnrichmentLoader{
			ID:       id,
			Priority: priority,
			CanEnrich: func(cookie cookiejar.Cookie) bool {
				result, err := obj.Call("can_enrich", cookieToJS(cookie))
				if err != nil {
					panic(err)
				}
				ok, _ := result.ToBoolean()
				return ok
			},
			Load: func(cookie cookiejar.Cookie) cookiejar.Enrichment {
				result, err := obj.Call("load", cookieToJS(cookie))
				if err != nil {
					panic(err)
				}
				e, err := enrichmentFromJS(result)
				if err != nil {
					panic(fmt.Errorf("loader %s: %w", id, err))
				}
				return e
			},
		}

		return registry.Entry[EnrichmentLoader]{ID: id, Priority: priority, Item: loader}, nil
	})
}
