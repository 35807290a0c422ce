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

package base

import (
	"context"
	"os"
	"time"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// DefaultRequeueSuccess is how often a synced resource is reconciled again.
// ACK_REQUEUE_SUCCESS_INTERVAL overrides it.
var DefaultRequeueSuccess = 10 * time.Minute

func init() {
	if v := os.Getenv("ACK_REQUEUE_SUCCESS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			DefaultRequeueSuccess = d
		}
	}
}

// StatusUpdater records the outcome of a reconciliation on the resource.
// err is nil on success. Each feature provides its own implementation.
type StatusUpdater[T client.Object] func(ctx context.Context, resource T, err error) error

// StatusManager updates resource status and decides the success requeue.
// Failure requeues are decided by the RequeuePolicy.
type StatusManager[T client.Object] struct {
	client           client.Client
	statusUpdater    StatusUpdater[T]
	requeueOnSuccess time.Duration
}

// NewStatusManager creates a new StatusManager with the given status updater function.
func NewStatusManager[T client.Object](c client.Client, updater StatusUpdater[T]) *StatusManager[T] {
	return &StatusManager[T]{
		client:           c,
		statusUpdater:    updater,
		requeueOnSuccess: DefaultRequeueSuccess,
	}
}

// WithRequeueOnSuccess sets the requeue duration for successful reconciliations.
func (s *StatusManager[T]) WithRequeueOnSuccess(d time.Duration) *StatusManager[T] {
	s.requeueOnSuccess = d
	return s
}

// Success records a successful reconciliation and requeues after the success interval.
// A status update failure is logged, not returned: the reconciliation itself succeeded.
func (s *StatusManager[T]) Success(ctx context.Context, resource T) (ctrl.Result, error) {
	if s.statusUpdater != nil {
		if err := s.statusUpdater(ctx, resource, nil); err != nil {
			logr.FromContextOrDiscard(ctx).V(1).Info("status update failed", "error", err.Error())
		}
	}
	return ctrl.Result{RequeueAfter: s.requeueOnSuccess}, nil
}

// Failure records reconcileErr on the resource.
func (s *StatusManager[T]) Failure(ctx context.Context, resource T, reconcileErr error) {
	if s.statusUpdater != nil {
		_ = s.statusUpdater(ctx, resource, reconcileErr)
	}
}

// RequeueAfter returns a result that requeues after the specified duration.
func (s *StatusManager[T]) RequeueAfter(d time.Duration) (ctrl.Result, error) {
	return ctrl.Result{RequeueAfter: d}, nil
}

// Done returns a result indicating no requeue is needed.
func (s *StatusManager[T]) Done() (ctrl.Result, error) {
	return ctrl.Result{}, nil
}
