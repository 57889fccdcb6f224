// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cookiejar

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// retryPolicy wraps backing-store calls with unbounded exponential backoff
// on transport-level errors (spec.md §4.3 "Backing-store robustness",
// §9 "Unbounded retry"). ErrNotFound and ErrConflict are domain errors and
// must never be retried by this policy — callers are expected to check for
// them with backoff.Permanent before returning from the wrapped operation.
type retryPolicy struct {
	// debug disables retry entirely so errors surface immediately,
	// per spec.md §9.
	debug bool

	// limiter throttles how often the policy is allowed to re-attempt the
	// store during a sustained backoff storm, so one hot, failing object
	// cannot monopolize the store's attention at the expense of others
	// sharing the same jar.
	limiter *rate.Limiter
}

func newRetryPolicy(debug bool) *retryPolicy {
	return &retryPolicy{
		debug:   debug,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
	}
}

// do runs op, retrying transport-level failures with exponential backoff
// until it succeeds, ctx is cancelled, or op returns a permanent error
// (wrap domain errors with backoff.Permanent inside op to stop retrying).
func (p *retryPolicy) do(ctx context.Context, op func() (Document, error)) (Document, error) {
	if p.debug {
		return op()
	}

	wrapped := func() (Document, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return Document{}, backoff.Permanent(err)
		}
		return op()
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(0), // unbounded
	)
}

// doVoid is do for operations with no Document result (Delete, Close).
func (p *retryPolicy) doVoid(ctx context.Context, op func() error) error {
	_, err := p.do(ctx, func() (Document, error) {
		return Document{}, op()
	})
	return err
}

// permanent marks a domain error (not-found, conflict) so the retry policy
// stops instead of backing off.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
