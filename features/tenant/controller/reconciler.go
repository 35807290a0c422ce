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

// Package controller provides the tenant preflight controller implementation.
package controller

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/acornett21/ack-multi-tenancy/shared/controller/base"
	"github.com/acornett21/ack-multi-tenancy/shared/controller/watches"
)

// ReconcilerConfig contains configuration for creating a Reconciler.
type ReconcilerConfig struct {
	Client          client.Client
	Scheme          *runtime.Scheme
	Sessions        base.SessionResolver
	Handler         *Handler
	Interval        time.Duration
	SystemNamespace string
	MapName         string
	Log             logr.Logger
}

// Reconciler periodically verifies each tenant namespace's identity. Requeueing
// at the preflight interval also keeps the tenant's credentials warm.
type Reconciler struct {
	base            *base.TenantReconciler[*corev1.Namespace]
	handler         *Handler
	client          client.Client
	systemNamespace string
	mapName         string
}

// NewReconciler creates a new preflight Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	// The handler records its own events; per-reconcile Syncing/Synced events
	// would repeat every interval for every tenant.
	baseReconciler := base.NewTenantReconciler[*corev1.Namespace](
		cfg.Client,
		cfg.Scheme,
		cfg.Log.WithName("reconciler"),
		cfg.Sessions,
		"",
		nil,
		nil,
	)
	if cfg.Interval > 0 {
		baseReconciler.Status.WithRequeueOnSuccess(cfg.Interval)
	}
	baseReconciler.NamespaceOf = func(ns *corev1.Namespace) string { return ns.Name }
	baseReconciler.OnRemoved = func(_ context.Context, req ctrl.Request) { cfg.Handler.Forget(req.Name) }

	return &Reconciler{
		base:            baseReconciler,
		handler:         cfg.Handler,
		client:          cfg.Client,
		systemNamespace: cfg.SystemNamespace,
		mapName:         cfg.MapName,
	}
}

// +kubebuilder:rbac:groups="",resources=namespaces,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile verifies one tenant namespace.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	return r.base.Reconcile(ctx, req, r.handler, func() *corev1.Namespace {
		return &corev1.Namespace{}
	})
}

// SetupWithManager sets up the controller with the Manager. A mapping change
// re-verifies every tenant namespace.
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("tenantpreflight").
		For(&corev1.Namespace{}, builder.WithPredicates(predicate.And[client.Object](
			watches.TenantNamespacePredicate{},
			watches.TenantAnnotationChangedPredicate{},
		))).
		Watches(&corev1.ConfigMap{},
			handler.EnqueueRequestsFromMapFunc(watches.AnnotatedNamespaceRequests(r.client)),
			builder.WithPredicates(watches.MappingConfigMapPredicate{
				SystemNamespace: r.systemNamespace,
				Name:            r.mapName,
			})).
		Complete(r)
}
