// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/faultlineio/faultline/services/llm"
)

// BackoffPolicy controls the delay between retries of a transient failure.
type BackoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the exponential growth.
	Max time.Duration

	// Jitter is the ± fraction applied to each delay (0 to 1).
	Jitter float64
}

// Delay returns the backoff before retry number attempt (attempt >= 1).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	// Exponential: base * 2^(attempt-1), capped at max.
	backoff := p.Base * time.Duration(1<<(attempt-1))
	if backoff > p.Max || backoff <= 0 {
		backoff = p.Max
	}

	jitterRange := float64(backoff) * p.Jitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)

	if backoff < 0 {
		backoff = p.Base
	}
	return backoff
}

// retry runs fn up to maxAttempts times, sleeping per the policy between
// attempts. Only errors the retryable predicate accepts are retried; any
// other error, and context cancellation, return immediately. The attempt
// count is exact: fn is never called more than maxAttempts times.
func retry(ctx context.Context, maxAttempts int, policy BackoffPolicy, retryable func(error) bool, onRetry func(attempt int), fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if retryable == nil {
		retryable = llm.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(attempt)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", maxAttempts, lastErr)
}

// retryAnyExceptCancel treats every failure as retryable unless the run
// itself was cancelled. Used for storage writes, where the embedded DB
// does not carry a transient/permanent taxonomy.
func retryAnyExceptCancel(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
