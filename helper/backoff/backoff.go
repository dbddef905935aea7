// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package backoff wraps fallible operations in a retry loop with
// exponential backoff, bounded by attempts and wall-clock time.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy returns how long to wait before the given retry attempt.
// Attempts are numbered from 1.
type Policy func(attempt int) time.Duration

// Exponential returns a policy that doubles the base wait per attempt,
// capped at max, with up to 25% random stagger to avoid thundering herds.
func Exponential(base, max time.Duration) Policy {
	return func(attempt int) time.Duration {
		wait := base << (attempt - 1)
		if wait > max || wait <= 0 {
			wait = max
		}
		return wait + RandomStagger(wait/4)
	}
}

// RandomStagger returns an interval between 0 and the duration.
func RandomStagger(intv time.Duration) time.Duration {
	if intv <= 0 {
		return 0
	}
	return time.Duration(uint64(rand.Int63()) % uint64(intv))
}

// Invoker retries an operation until it succeeds, the attempt budget is
// spent, the deadline passes, or the context is cancelled. The zero value
// retries forever with no backoff; callers are expected to set a policy.
type Invoker struct {
	// Policy computes the wait before each retry. Nil means no wait.
	Policy Policy

	// MaxTries caps the number of attempts. Zero means unlimited.
	MaxTries int

	// MaxTime caps the total wall-clock time across attempts, measured
	// from the first call. Zero means unlimited.
	MaxTime time.Duration

	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(err error, attempt int, wait time.Duration)
}

// Invoke runs op, retrying per the invoker's bounds. The last error is
// returned when the bounds trip; a context error is returned when the
// context ends first.
func (inv *Invoker) Invoke(ctx context.Context, op func(ctx context.Context) error) error {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if inv.MaxTries != 0 && attempt >= inv.MaxTries {
			return err
		}

		var wait time.Duration
		if inv.Policy != nil {
			wait = inv.Policy(attempt)
		}

		if inv.MaxTime != 0 && time.Since(start)+wait > inv.MaxTime {
			return err
		}

		if inv.OnRetry != nil {
			inv.OnRetry(err, attempt, wait)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
