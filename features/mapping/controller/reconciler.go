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

// Package controller provides the tenant mapping controller implementation.
package controller

import (
	"context"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/handler"

	oplogger "github.com/acornett21/ack-multi-tenancy/pkg/logger"
	"github.com/acornett21/ack-multi-tenancy/shared/controller/watches"
)

// Reconciler rebuilds the tenant mapping whenever a mapping ConfigMap changes.
// All sources collapse onto a single request, so rebuilds never run concurrently.
type Reconciler struct {
	handler         *Handler
	systemNamespace string
	mapName         string
	log             logr.Logger
}

// NewReconciler creates a new mapping Reconciler.
func NewReconciler(h *Handler, systemNamespace, mapName string, log logr.Logger) *Reconciler {
	return &Reconciler{
		handler:         h,
		systemNamespace: systemNamespace,
		mapName:         mapName,
		log:             log.WithName("reconciler"),
	}
}

// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch

// Reconcile rebuilds the table. The request only identifies the mapping as a whole.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := oplogger.NewReconcileLogger(logr.NewContext(ctx, r.log), "tenantmapping", req)
	log.LogReconcileStart()

	if err := r.handler.Rebuild(ctx); err != nil {
		log.LogReconcileError(err)
		return ctrl.Result{}, err
	}
	log.V(1).LogReconcileSuccess()
	return ctrl.Result{}, nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("tenantmapping").
		Watches(&corev1.ConfigMap{},
			handler.EnqueueRequestsFromMapFunc(watches.MappingRequests(r.systemNamespace, r.mapName)),
			builder.WithPredicates(watches.MappingConfigMapPredicate{
				SystemNamespace: r.systemNamespace,
				Name:            r.mapName,
			})).
		Complete(r)
}
