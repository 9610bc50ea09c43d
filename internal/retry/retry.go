// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry wraps an operation with configurable attempts, backoff,
// and retryability predicates for both errors and results.
package retry

import (
	"context"
	"time"
)

// Backoff strategies.
type Backoff string

const (
	Fixed       Backoff = "fixed"
	Exponential Backoff = "exponential"
)

// Config controls attempt count and delays.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	Strategy Backoff

	// Delay is the fixed delay, or the base delay for exponential
	// backoff.
	Delay time.Duration

	// MaxDelay caps exponential backoff.
	MaxDelay time.Duration
}

// Options customizes retry decisions and observability.
type Options[T any] struct {
	// IsRetryable decides whether a failed attempt's error should
	// trigger a retry. Nil retries every error.
	IsRetryable func(error) bool

	// ShouldRetryResult decides whether a successful attempt's result
	// should trigger a retry anyway. Nil never retries results.
	ShouldRetryResult func(T) bool

	// OnAttempt is invoked after every attempt with the 1-based
	// attempt number, the result or error, and the attempt duration.
	OnAttempt func(attempt int, result T, err error, elapsed time.Duration)
}

// Do runs op up to cfg.MaxAttempts times. Context cancellation
// propagates immediately without further retries. If every attempt
// fails with an error the last error is returned; if the final retry
// was triggered by a retryable result, that result is returned with a
// nil error.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error), opts Options[T]) (T, error) {
	var (
		zero       T
		lastResult T
		lastErr    error
		haveResult bool
	)

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		start := time.Now()
		result, err := op(ctx)
		elapsed := time.Since(start)

		if err == nil {
			if opts.OnAttempt != nil {
				opts.OnAttempt(attempt, result, nil, elapsed)
			}
			if attempt < cfg.MaxAttempts && opts.ShouldRetryResult != nil && opts.ShouldRetryResult(result) {
				lastResult = result
				haveResult = true
				lastErr = nil
			} else {
				return result, nil
			}
		} else {
			if opts.OnAttempt != nil {
				opts.OnAttempt(attempt, zero, err, elapsed)
			}
			// Only the caller's context stops retries: an attempt may
			// fail with a wrapped deadline error from its own
			// per-attempt timeout, which stays retryable.
			if ctx.Err() != nil {
				return zero, err
			}
			lastErr = err
			if attempt == cfg.MaxAttempts || (opts.IsRetryable != nil && !opts.IsRetryable(err)) {
				break
			}
			haveResult = false
		}

		if err := sleep(ctx, delayFor(cfg, attempt)); err != nil {
			return zero, err
		}
	}

	if lastErr != nil {
		return zero, lastErr
	}
	if haveResult {
		return lastResult, nil
	}
	return zero, nil
}

func delayFor(cfg Config, attempt int) time.Duration {
	if cfg.Strategy == Exponential {
		delay := cfg.Delay << (attempt - 1)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return delay
	}
	return cfg.Delay
}

func sleep(ctx context.Context, d time.Duration) error {
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
