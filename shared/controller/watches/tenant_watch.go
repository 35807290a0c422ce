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

// Package watches provides cross-resource watch functions for triggering
// dependent reconciliation when tenant configuration changes.
package watches

import (
	"context"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
)

// MappingRequests returns a MapFunc that collapses every mapping ConfigMap
// event into one request for the primary mapping object. The workqueue then
// deduplicates bursts and the reconciler relists all sources.
func MappingRequests(systemNamespace, name string) handler.MapFunc {
	request := reconcile.Request{NamespacedName: types.NamespacedName{Namespace: systemNamespace, Name: name}}
	return func(_ context.Context, obj client.Object) []reconcile.Request {
		if !IsMappingConfigMap(obj, systemNamespace, name) {
			return nil
		}
		return []reconcile.Request{request}
	}
}

// AnnotatedNamespaceRequests returns a MapFunc that enqueues every namespace
// carrying an owner account annotation. Used to re-verify tenants after the
// mapping table changes.
func AnnotatedNamespaceRequests(k8sClient client.Reader) handler.MapFunc {
	return func(ctx context.Context, obj client.Object) []reconcile.Request {
		logger := log.FromContext(ctx).WithValues("source", obj.GetName(), "watchTarget", "Namespace")

		namespaces := &corev1.NamespaceList{}
		if err := k8sClient.List(ctx, namespaces); err != nil {
			logger.Error(err, "failed to list namespaces for mapping watch")
			return nil
		}

		var requests []reconcile.Request
		for _, ns := range namespaces.Items {
			if strings.TrimSpace(ns.Annotations[tenant.AnnotationOwnerAccountID]) == "" {
				continue
			}
			requests = append(requests, reconcile.Request{
				NamespacedName: types.NamespacedName{Name: ns.Name},
			})
		}

		if len(requests) > 0 {
			logger.V(1).Info("enqueuing tenant namespaces", "count", len(requests))
		}
		return requests
	}
}
