/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package credentials

import (
	"context"
	"math"
	"math/rand"
	"time"

	"k8s.io/utils/clock"
)

const (
	// DefaultMaxAttempts bounds the STS calls made for one refresh.
	DefaultMaxAttempts = 4

	// DefaultInitialBackoff is the delay before the first retry.
	DefaultInitialBackoff = 200 * time.Millisecond

	// DefaultMaxBackoff caps the delay between retries.
	DefaultMaxBackoff = 5 * time.Second
)

// RetryPolicy is the retry budget for trust exchange calls.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first. Values below 1 mean 1.
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases
	Multiplier float64

	// JitterFactor is the maximum random jitter as a fraction of the delay
	JitterFactor float64

	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool

	// Clock drives the waits between attempts.
	Clock clock.Clock
}

// DefaultRetryPolicy retries throttling and network failures with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialBackoff,
		MaxDelay:     DefaultMaxBackoff,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		Retryable:    IsRetryable,
		Clock:        clock.RealClock{},
	}
}

// Backoff calculates the delay after the given number of failed retries.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		delay += delay * p.JitterFactor * (2*rand.Float64() - 1)
	}

	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made and the last error.
// Waiting between attempts stops early when ctx is done.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clk := p.clock()

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt >= maxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return attempt, err
		}

		delay := p.Backoff(attempt - 1)
		if delay <= 0 {
			continue
		}
		timer := clk.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C():
		}
	}
}

func (p RetryPolicy) clock() clock.Clock {
	if p.Clock == nil {
		return clock.RealClock{}
	}
	return p.Clock
}
