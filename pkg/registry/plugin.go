// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"fmt"
	"os"

	"github.com/robertkrimen/otto"
)

// RunPluginFile executes the JavaScript source at path in a fresh
// otto.Otto VM — a genuinely isolated evaluation scope per file, per
// spec.md §4.1 — and returns the raw objects passed to register() during
// that run, in call order. convert is applied to each one to build a
// typed Entry; a convert failure fails the whole file, matching the
// file-level granularity of plug-in load errors (spec.md §7).
//
// otto (a pure-Go JS interpreter) is used instead of an OS-level
// plugin.Open() shared object: it needs no compile step per plug-in and
// gives each file its own VM rather than a shared process-wide symbol
// table (spec.md §9 "Dynamic plug-ins").
func RunPluginFile[T any](path string, convert func(obj *otto.Object) (Entry[T], error)) ([]Entry[T], error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	vm := otto.New()
	var registered []*otto.Object

	err = vm.Set("register", func(call otto.FunctionCall) otto.Value {
		arg := call.Argument(0)
		if obj := arg.Object(); obj != nil {
			registered = append(registered, obj)
		}
		return otto.UndefinedValue()
	})
	if err != nil {
		return nil, fmt.Errorf("registry: install register() in %s: %w", path, err)
	}

	if _, err := vm.Run(string(src)); err != nil {
		return nil, fmt.Errorf("registry: run %s: %w", path, err)
	}

	entries := make([]Entry[T], 0, len(registered))
	for _, obj := range registered {
		e, err := convert(obj)
		if err != nil {
			return nil, fmt.Errorf("registry: registered item in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetString reads a required string property off a registered JS object.
func GetString(obj *otto.Object, name string) (string, error) {
	v, err := obj.Get(name)
	if err != nil {
		return "", fmt.Errorf("get %q: %w", name, err)
	}
	if !v.IsString() {
		return "", fmt.Errorf("%q must be a string", name)
	}
	return v.ToString()
}

// GetInt reads an integer property off a registered JS object, defaulting
// to 0 if absent.
func GetInt(obj *otto.Object, name string) (int, error) {
	v, err := obj.Get(name)
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", name, err)
	}
	if v.IsUndefined() {
		return 0, nil
	}
	f, err := v.ToFloat()
	if err != nil {
		return 0, fmt.Errorf("%q must be a number: %w", name, err)
	}
	return int(f), nil
}

// GetFunction reads a required function property off a registered JS
// object.
func GetFunction(obj *otto.Object, name string) (otto.Value, error) {
	v, err := obj.Get(name)
	if err != nil {
		return otto.Value{}, fmt.Errorf("get %q: %w", name, err)
	}
	if !v.IsFunction() {
		return otto.Value{}, fmt.Errorf("%q must be a function", name)
	}
	return v, nil
}
