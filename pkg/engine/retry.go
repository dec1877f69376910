// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retry behavior for transient engine errors. The
// zero value disables retries entirely.
type RetryPolicy struct {
	// Attempts is the number of retries after the first failure.
	Attempts uint64
	// Interval is the initial backoff interval; subsequent intervals grow
	// exponentially.
	Interval time.Duration
}

// DefaultRetryPolicy retries transient failures three times starting at half
// a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Interval: 500 * time.Millisecond}
}

// Retry runs op, retrying with exponential backoff while it fails with a
// transient engine error. Permanent errors and context cancellation abort
// immediately. On exhaustion the last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Interval
	if policy.Interval <= 0 {
		b.InitialInterval = 500 * time.Millisecond
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, policy.Attempts), ctx))
}
