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

// Package base provides shared controller infrastructure using the Template Method pattern.
// Every tenant-scoped controller fetches its object, resolves the tenant session
// for the object's namespace and only then hands both to the feature handler.
package base

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	requeue "github.com/acornett21/ack-multi-tenancy/internal/controller"
	"github.com/acornett21/ack-multi-tenancy/pkg/broker"
	oplogger "github.com/acornett21/ack-multi-tenancy/pkg/logger"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// SessionResolver resolves the tenant session for an object. *broker.Broker implements it.
type SessionResolver interface {
	ResolveCredentials(ctx context.Context, namespace string, obj client.Object) (*broker.Session, error)
}

// FeatureHandler defines the interface that each feature's handler must implement.
// Handlers only ever see a resolved session.
type FeatureHandler[T client.Object] interface {
	// Sync reconciles the resource using the tenant's AWS identity.
	// Called when the resource exists and is not being deleted.
	Sync(ctx context.Context, resource T, session *broker.Session) error

	// Cleanup releases what Sync created.
	// Called when the resource is being deleted and carries the finalizer.
	Cleanup(ctx context.Context, resource T, session *broker.Session) error
}

// Event reasons for K8s events
const (
	EventReasonSyncing                = "Syncing"
	EventReasonSynced                 = "Synced"
	EventReasonSyncFailed             = "SyncFailed"
	EventReasonDeleting               = "Deleting"
	EventReasonDeleted                = "Deleted"
	EventReasonDeleteFailed           = "DeleteFailed"
	EventReasonCredentialsUnavailable = "CredentialsUnavailable"
)

// TenantReconciler provides the template method for tenant-scoped reconciliation.
type TenantReconciler[T client.Object] struct {
	Client client.Client
	Scheme *runtime.Scheme
	Logger logr.Logger
	Broker SessionResolver

	// Finalizer is nil when the feature has no cleanup to guard.
	Finalizer *FinalizerManager
	Status    *StatusManager[T]
	Requeue   *requeue.RequeuePolicy
	Recorder  record.EventRecorder

	// NamespaceOf returns the namespace whose tenant owns resource.
	// Defaults to the resource's own namespace.
	NamespaceOf func(resource T) string

	// OnRemoved, when set, is called once a resource is gone or being deleted
	// without a finalizer, so handlers can drop per-object state.
	OnRemoved func(ctx context.Context, req ctrl.Request)
}

// NewTenantReconciler creates a TenantReconciler. An empty finalizerName
// disables finalizer handling; a nil recorder disables events.
func NewTenantReconciler[T client.Object](
	c client.Client,
	scheme *runtime.Scheme,
	logger logr.Logger,
	sessions SessionResolver,
	finalizerName string,
	statusUpdater StatusUpdater[T],
	recorder record.EventRecorder,
) *TenantReconciler[T] {
	r := &TenantReconciler[T]{
		Client:   c,
		Scheme:   scheme,
		Logger:   logger,
		Broker:   sessions,
		Status:   NewStatusManager(c, statusUpdater),
		Requeue:  requeue.NewRequeuePolicy(requeue.DefaultRetryConfig()),
		Recorder: recorder,
	}
	if finalizerName != "" {
		r.Finalizer = NewFinalizerManager(c, finalizerName)
	}
	return r
}

func (r *TenantReconciler[T]) recordEvent(obj client.Object, eventType, reason, message string) {
	if r.Recorder != nil {
		r.Recorder.Event(obj, eventType, reason, message)
	}
}

func (r *TenantReconciler[T]) namespaceOf(resource T) string {
	if r.NamespaceOf != nil {
		return r.NamespaceOf(resource)
	}
	return resource.GetNamespace()
}

func (r *TenantReconciler[T]) removed(ctx context.Context, req ctrl.Request) {
	r.Requeue.Forget(req.NamespacedName)
	if r.OnRemoved != nil {
		r.OnRemoved(ctx, req)
	}
}

func (r *TenantReconciler[T]) guarded(resource T) bool {
	return r.Finalizer != nil && r.Finalizer.HasFinalizer(resource)
}

// Reconcile runs one reconciliation:
//  1. fetch the resource
//  2. resolve the tenant session (failures requeue without calling the handler)
//  3. run cleanup on deletion, otherwise ensure the finalizer and sync
func (r *TenantReconciler[T]) Reconcile(
	ctx context.Context,
	req ctrl.Request,
	handler FeatureHandler[T],
	newResource func() T,
) (ctrl.Result, error) {
	reconcileID := shortID()
	log := r.Logger.WithValues(
		"name", req.Name,
		"namespace", req.Namespace,
		oplogger.KeyReconcileID, reconcileID,
	)
	ctx = logr.NewContext(ctx, log)

	resource := newResource()
	if err := r.Client.Get(ctx, req.NamespacedName, resource); err != nil {
		if apierrors.IsNotFound(err) {
			log.V(1).Info("resource not found, likely deleted")
			r.removed(ctx, req)
			return ctrl.Result{}, nil
		}
		log.Error(err, "failed to fetch resource")
		return ctrl.Result{}, err
	}

	deleting := !resource.GetDeletionTimestamp().IsZero()
	if deleting && !r.guarded(resource) {
		r.removed(ctx, req)
		return ctrl.Result{}, nil
	}

	session, err := r.Broker.ResolveCredentials(ctx, r.namespaceOf(resource), resource)
	if err != nil {
		class := infraerrors.Classify(err)
		log.Info("tenant credentials unavailable", oplogger.KeyError, err.Error(), oplogger.KeyErrorClass, string(class))
		if class == infraerrors.ClassPermanent {
			r.recordEvent(resource, corev1.EventTypeWarning, EventReasonCredentialsUnavailable, err.Error())
		}
		r.Status.Failure(ctx, resource, err)
		return r.Requeue.Result(req.NamespacedName, err)
	}
	log = oplogger.WithTenant(log, session.Key.Account, session.Key.Namespace)
	ctx = logr.NewContext(ctx, log)

	if deleting {
		return r.handleDeletion(ctx, req, resource, session, handler, log)
	}

	if r.Finalizer != nil {
		if err := r.Finalizer.Ensure(ctx, resource); err != nil {
			log.Error(err, "failed to ensure finalizer")
			return ctrl.Result{}, err
		}
	}

	r.recordEvent(resource, corev1.EventTypeNormal, EventReasonSyncing, "Syncing with account "+session.Key.Account)
	if err := handler.Sync(ctx, resource, session); err != nil {
		log.Error(err, "sync failed")
		r.recordEvent(resource, corev1.EventTypeWarning, EventReasonSyncFailed, err.Error())
		r.Status.Failure(ctx, resource, err)
		return r.Requeue.Result(req.NamespacedName, err)
	}

	r.recordEvent(resource, corev1.EventTypeNormal, EventReasonSynced, "Synced with account "+session.Key.Account)
	r.Requeue.Forget(req.NamespacedName)
	return r.Status.Success(ctx, resource)
}

func (r *TenantReconciler[T]) handleDeletion(
	ctx context.Context,
	req ctrl.Request,
	resource T,
	session *broker.Session,
	handler FeatureHandler[T],
	log logr.Logger,
) (ctrl.Result, error) {
	log.Info("handling deletion, running cleanup")
	r.recordEvent(resource, corev1.EventTypeNormal, EventReasonDeleting, "Cleaning up in account "+session.Key.Account)

	if err := handler.Cleanup(ctx, resource, session); err != nil {
		log.Error(err, "cleanup failed")
		r.recordEvent(resource, corev1.EventTypeWarning, EventReasonDeleteFailed, err.Error())
		return r.Requeue.Result(req.NamespacedName, err)
	}

	if err := r.Finalizer.Remove(ctx, resource); err != nil {
		log.Error(err, "failed to remove finalizer")
		return ctrl.Result{}, err
	}

	r.recordEvent(resource, corev1.EventTypeNormal, EventReasonDeleted, "Cleaned up in account "+session.Key.Account)
	r.Requeue.Forget(req.NamespacedName)
	log.Info("cleanup completed, finalizer removed")
	return ctrl.Result{}, nil
}

// shortID generates a short random hex string for reconcile correlation.
func shortID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
