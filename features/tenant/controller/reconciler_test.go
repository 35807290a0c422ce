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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/acornett21/ack-multi-tenancy/pkg/broker"
	"github.com/acornett21/ack-multi-tenancy/pkg/metrics"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

type sessionFunc func(ctx context.Context, namespace string, obj client.Object) (*broker.Session, error)

func (f sessionFunc) ResolveCredentials(ctx context.Context, namespace string, obj client.Object) (*broker.Session, error) {
	return f(ctx, namespace, obj)
}

func newTestReconciler(t *testing.T, sessions sessionFunc, idp *fakeIdentity, objs ...client.Object) (*Reconciler, *Handler) {
	t.Helper()
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()

	h, _ := newTestHandler(idp)
	r := NewReconciler(ReconcilerConfig{
		Client:   c,
		Scheme:   scheme,
		Sessions: sessions,
		Handler:  h,
		Interval: 7 * time.Minute,
		Log:      logr.Discard(),
	})
	return r, h
}

func request(name string) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Name: name}}
}

func TestReconciler_VerifiesAndRequeuesAtInterval(t *testing.T) {
	var resolved []string
	sessions := sessionFunc(func(_ context.Context, namespace string, _ client.Object) (*broker.Session, error) {
		resolved = append(resolved, namespace)
		return tenantSession(namespace), nil
	})
	idp := &fakeIdentity{account: tenantAccount}
	r, _ := newTestReconciler(t, sessions, idp, tenantNamespace("marketing", tenantAccount))

	result, err := r.Reconcile(context.Background(), request("marketing"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.RequeueAfter != 7*time.Minute {
		t.Errorf("RequeueAfter = %v, want 7m", result.RequeueAfter)
	}
	if len(resolved) != 1 || resolved[0] != "marketing" {
		t.Errorf("sessions resolved for %v, want the namespace's own name", resolved)
	}
	if idp.calls.Load() != 1 {
		t.Errorf("GetCallerIdentity calls = %d, want 1", idp.calls.Load())
	}
}

func TestReconciler_TrustDeniedBacksOff(t *testing.T) {
	sessions := sessionFunc(func(context.Context, string, client.Object) (*broker.Session, error) {
		return nil, infraerrors.NewTrustDeniedError(tenantAccount, "arn:aws:iam::222222222222:role/ack-tenant", errors.New("AccessDenied"))
	})
	idp := &fakeIdentity{account: tenantAccount}
	r, _ := newTestReconciler(t, sessions, idp, tenantNamespace("denied", tenantAccount))

	result, err := r.Reconcile(context.Background(), request("denied"))
	if err != nil {
		t.Fatalf("permanent failures should not return an error, got %v", err)
	}
	if result.RequeueAfter <= 0 {
		t.Error("expected a slow requeue after a trust denial")
	}
	if idp.calls.Load() != 0 {
		t.Error("identity must not be verified without a session")
	}
}

func TestReconciler_DeletedNamespaceForgetsSeries(t *testing.T) {
	sessions := sessionFunc(func(_ context.Context, namespace string, _ client.Object) (*broker.Session, error) {
		return tenantSession(namespace), nil
	})
	idp := &fakeIdentity{account: tenantAccount}
	ns := tenantNamespace("short-lived", tenantAccount)
	r, _ := newTestReconciler(t, sessions, idp, ns)

	if _, err := r.Reconcile(context.Background(), request(ns.Name)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := r.client.Delete(context.Background(), ns); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	if _, err := r.Reconcile(context.Background(), request(ns.Name)); err != nil {
		t.Fatalf("Reconcile() after delete error = %v", err)
	}
	if metrics.TenantIdentityVerifiedGauge.DeleteLabelValues(ns.Name, tenantAccount) {
		t.Error("series should be removed once the namespace is gone")
	}
}
