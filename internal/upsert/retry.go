// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package upsert

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/healthsync/internal/tracker"
)

// RetryPolicy decides how many times a write is attempted and which
// failures earn another attempt. The delay between attempts is fixed.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable reports whether err should be attempted again.
	Retryable func(err error) bool
	// Sleep waits between attempts; nil uses a cancellable timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries timeouts only: three attempts, two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Retryable:   IsTimeout,
	}
}

// IsTimeout reports whether err is a tracker call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, tracker.ErrTimeout)
}

// Do calls fn with attempt numbers starting at 1 until it succeeds, returns
// a non-retryable error, or attempts run out. It returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == attempts {
			return err
		}
		if sleepErr := p.sleep(ctx, p.Delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
