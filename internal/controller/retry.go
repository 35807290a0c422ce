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

package controller

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"

	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

const (
	// InitialRetryDelay is the delay before the first retry of a permanent failure
	InitialRetryDelay = time.Minute

	// MaxRetryDelay is the maximum delay between retries
	MaxRetryDelay = 30 * time.Minute

	// BackoffMultiplier is the factor by which the delay increases
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum random jitter as a fraction of the delay
	JitterFactor = 0.1

	// MaxRetryCount is the maximum number of retries before giving up
	// Set to 0 for unlimited retries
	MaxRetryCount = 0
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	// InitialDelay is the initial delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases
	Multiplier float64

	// JitterFactor is the maximum random jitter as a fraction of the delay
	JitterFactor float64

	// MaxRetries is the maximum number of retries (0 for unlimited)
	MaxRetries int
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: InitialRetryDelay,
		MaxDelay:     MaxRetryDelay,
		Multiplier:   BackoffMultiplier,
		JitterFactor: JitterFactor,
		MaxRetries:   MaxRetryCount,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry count
func (c RetryConfig) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return c.InitialDelay
	}

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(retryCount))

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		jitter := delay * c.JitterFactor * (2*rand.Float64() - 1) // between -JitterFactor and +JitterFactor
		delay += jitter
	}

	if delay < float64(c.InitialDelay) {
		delay = float64(c.InitialDelay)
	}

	return time.Duration(delay)
}

// RetryResult represents the result of a retry decision
type RetryResult struct {
	// Requeue indicates whether the request should be requeued after RequeueAfter
	Requeue bool

	// RequeueAfter is the duration to wait before requeuing
	RequeueAfter time.Duration

	// ReturnError hands the error to the workqueue rate limiter instead
	ReturnError bool

	// RetryCount is the updated retry count
	RetryCount int

	// GiveUp indicates whether to stop retrying until the next watch event
	GiveUp bool
}

// ShouldRetry decides how to requeue after err.
//
// Transient errors go back to the workqueue, whose rate limiter already
// backs off quickly. Permanent errors (trust denied, bad configuration) are
// requeued slowly with config's exponential backoff and no error, so they do
// not crowd the queue.
func ShouldRetry(err error, currentRetryCount int, config RetryConfig) RetryResult {
	if err == nil {
		return RetryResult{RetryCount: 0}
	}

	if infraerrors.Classify(err) == infraerrors.ClassTransient {
		return RetryResult{ReturnError: true, RetryCount: 0}
	}

	newRetryCount := currentRetryCount + 1
	if config.MaxRetries > 0 && newRetryCount > config.MaxRetries {
		return RetryResult{
			RetryCount: newRetryCount,
			GiveUp:     true,
		}
	}

	return RetryResult{
		Requeue:      true,
		RequeueAfter: config.CalculateBackoff(currentRetryCount),
		RetryCount:   newRetryCount,
	}
}

// RequeuePolicy turns reconciliation errors into controller results and
// tracks permanent failures per object.
type RequeuePolicy struct {
	config RetryConfig

	mu       sync.Mutex
	failures map[types.NamespacedName]int
}

// NewRequeuePolicy creates a RequeuePolicy using config for permanent failures.
func NewRequeuePolicy(config RetryConfig) *RequeuePolicy {
	return &RequeuePolicy{
		config:   config,
		failures: make(map[types.NamespacedName]int),
	}
}

// Result returns what a reconciler of key should return after err.
// A nil err resets the object's backoff.
func (p *RequeuePolicy) Result(key types.NamespacedName, err error) (ctrl.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	decision := ShouldRetry(err, p.failures[key], p.config)
	switch {
	case err == nil:
		delete(p.failures, key)
		return ctrl.Result{}, nil
	case decision.ReturnError:
		return ctrl.Result{}, err
	case decision.GiveUp:
		p.failures[key] = decision.RetryCount
		return ctrl.Result{}, nil
	}
	p.failures[key] = decision.RetryCount
	return ctrl.Result{RequeueAfter: decision.RequeueAfter}, nil
}

// Forget drops the failure history of key.
func (p *RequeuePolicy) Forget(key types.NamespacedName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, key)
}

// Failures returns how many consecutive permanent failures key has had.
func (p *RequeuePolicy) Failures(key types.NamespacedName) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[key]
}
