// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notifier implements broadcast delivery to the hot-reloading
// notification-receiver registry (spec.md §4.2).
package notifier

import (
	"context"
	"fmt"

	"github.com/robertkrimen/otto"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
	"github.com/cookiemonster/cookiemonster/pkg/logging"
	"github.com/cookiemonster/cookiemonster/pkg/registry"
)

// Receiver is a registered sink for rule-emitted notifications. It has no
// identity of its own (spec.md §3 "registered by identity").
type Receiver struct {
	Receive func(cookiejar.Notification)
}

// ReceiverFilePredicate matches "*.receiver.js" files under a plug-in
// root (SPEC_FULL.md §6).
func ReceiverFilePredicate(path string) bool {
	if len(path) < len(".receiver.js") {
		return false
	}
	return path[len(path)-len(".receiver.js"):] == ".receiver.js"
}

// LoadReceiverFile is a registry.Loader[Receiver] for *.receiver.js files.
func LoadReceiverFile(path string) ([]registry.Entry[Receiver], error) {
	return registry.RunPluginFile(path, func(obj *otto.Object) (registry.Entry[Receiver], error) {
		if _, err := registry.GetFunction(obj, "receive"); err != nil {
			return registry.Entry[Receiver]{}, err
		}

		r := Receiver{
			Receive: func(n cookiejar.Notification) {
				payload := map[string]any{
					"topic":   n.Topic,
					"payload": n.Payload,
					"sender":  n.Sender,
				}
				if _, err := obj.Call("receive", payload); err != nil {
					panic(fmt.Errorf("receiver: %w", err))
				}
			},
		}

		return registry.Entry[Receiver]{Item: r}, nil
	})
}

// Notifier broadcasts notifications to every currently-registered
// receiver, synchronously and in registry order (spec.md §4.2). A
// receiver's panic is recovered, logged, and does not block the others.
type Notifier struct {
	receivers *registry.Registry[Receiver]
	logger    *logging.Logger
}

// New wires a Notifier to a directory of *.receiver.js plug-ins.
func New(pluginRoot string, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	reg := registry.New[Receiver](pluginRoot, ReceiverFilePredicate, LoadReceiverFile, false,
		registry.WithLogger[Receiver](logger))
	return &Notifier{receivers: reg, logger: logger}
}

// Start begins watching the receiver plug-in directory.
func (n *Notifier) Start(ctx context.Context) error {
	return n.receivers.Start(ctx)
}

// Stop releases the receiver registry's watcher.
func (n *Notifier) Stop() {
	n.receivers.Stop()
}

// Broadcast calls Receive on every registered receiver. Exceptions are
// caught, logged, and discarded; delivery continues to the remaining
// receivers (spec.md §4.2).
func (n *Notifier) Broadcast(notification cookiejar.Notification) {
	for _, r := range n.receivers.Snapshot() {
		n.deliver(r, notification)
	}
}

func (n *Notifier) deliver(r Receiver, notification cookiejar.Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Error("notification receiver panicked",
				"topic", notification.Topic, "panic", rec)
		}
	}()
	r.Receive(notification)
}
