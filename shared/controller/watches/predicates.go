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

package watches

import (
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
)

// LabelRoleAccountMap marks additional mapping ConfigMaps.
const LabelRoleAccountMap = "services.k8s.aws/role-account-map"

// IsMappingConfigMap reports whether obj is a tenant mapping source: a
// ConfigMap in the system namespace that has the configured name or carries
// the role-account-map label.
func IsMappingConfigMap(obj client.Object, systemNamespace, name string) bool {
	if obj == nil || obj.GetNamespace() != systemNamespace {
		return false
	}
	return obj.GetName() == name || obj.GetLabels()[LabelRoleAccountMap] == "true"
}

// MappingConfigMapPredicate passes events for mapping ConfigMaps. An update
// passes when either side matches, so removing the label still rebuilds the
// table.
type MappingConfigMapPredicate struct {
	predicate.Funcs
	SystemNamespace string
	Name            string
}

func (p MappingConfigMapPredicate) Create(e event.CreateEvent) bool {
	return IsMappingConfigMap(e.Object, p.SystemNamespace, p.Name)
}

func (p MappingConfigMapPredicate) Delete(e event.DeleteEvent) bool {
	return IsMappingConfigMap(e.Object, p.SystemNamespace, p.Name)
}

func (p MappingConfigMapPredicate) Update(e event.UpdateEvent) bool {
	return IsMappingConfigMap(e.ObjectOld, p.SystemNamespace, p.Name) ||
		IsMappingConfigMap(e.ObjectNew, p.SystemNamespace, p.Name)
}

func (p MappingConfigMapPredicate) Generic(e event.GenericEvent) bool {
	return IsMappingConfigMap(e.Object, p.SystemNamespace, p.Name)
}

// TenantAnnotationChangedPredicate triggers on namespace events that can move
// a namespace to another tenant:
// - owner account or default region annotation changes
// - Create/Delete events (always trigger)
//
// Label and status churn on namespaces is ignored.
type TenantAnnotationChangedPredicate struct {
	predicate.Funcs
}

func (TenantAnnotationChangedPredicate) Create(e event.CreateEvent) bool {
	return true
}

func (TenantAnnotationChangedPredicate) Delete(e event.DeleteEvent) bool {
	return true
}

func (TenantAnnotationChangedPredicate) Update(e event.UpdateEvent) bool {
	if e.ObjectOld == nil || e.ObjectNew == nil {
		return true
	}
	oldAnn, newAnn := e.ObjectOld.GetAnnotations(), e.ObjectNew.GetAnnotations()
	return oldAnn[tenant.AnnotationOwnerAccountID] != newAnn[tenant.AnnotationOwnerAccountID] ||
		oldAnn[tenant.AnnotationDefaultRegion] != newAnn[tenant.AnnotationDefaultRegion]
}

func (TenantAnnotationChangedPredicate) Generic(e event.GenericEvent) bool {
	return false
}

// HasOwnerAccount reports whether obj carries the owner account annotation.
func HasOwnerAccount(obj client.Object) bool {
	return obj != nil && obj.GetAnnotations()[tenant.AnnotationOwnerAccountID] != ""
}

// TenantNamespacePredicate passes events for namespaces that belong to a
// tenant. An update passes when either side is annotated, so removing the
// annotation is still observed.
type TenantNamespacePredicate struct {
	predicate.Funcs
}

func (TenantNamespacePredicate) Create(e event.CreateEvent) bool {
	return HasOwnerAccount(e.Object)
}

func (TenantNamespacePredicate) Delete(e event.DeleteEvent) bool {
	return HasOwnerAccount(e.Object)
}

func (TenantNamespacePredicate) Update(e event.UpdateEvent) bool {
	return HasOwnerAccount(e.ObjectOld) || HasOwnerAccount(e.ObjectNew)
}

func (TenantNamespacePredicate) Generic(e event.GenericEvent) bool {
	return HasOwnerAccount(e.Object)
}
