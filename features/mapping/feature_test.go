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

package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
)

func newFeature(funcs interceptor.Funcs) *Feature {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	c := fake.NewClientBuilder().WithScheme(scheme).WithInterceptorFuncs(funcs).Build()

	return New(Config{
		EventBus:        events.NewEventBus(logr.Discard()),
		K8sClient:       c,
		Store:           tenant.NewStore("111111111111"),
		SystemNamespace: "ack-system",
		MapName:         "ack-role-account-map",
		Log:             logr.Discard(),
	})
}

func TestLoadInitial_EmptyClusterBecomesReady(t *testing.T) {
	f := newFeature(interceptor.Funcs{})

	if err := f.ReadyCheck(nil); err == nil {
		t.Fatal("ReadyCheck() should fail before the first load")
	}
	if err := f.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	if err := f.ReadyCheck(nil); err != nil {
		t.Errorf("ReadyCheck() after load = %v", err)
	}
	if f.Store.Snapshot().Generation() != 1 || f.Store.Snapshot().Len() != 0 {
		t.Errorf("expected an empty table at generation 1, got %d entries at %d",
			f.Store.Snapshot().Len(), f.Store.Snapshot().Generation())
	}
}

func TestLoadInitial_StopsOnCancel(t *testing.T) {
	f := newFeature(interceptor.Funcs{
		List: func(context.Context, client.WithWatch, client.ObjectList, ...client.ListOption) error {
			return errors.New("apiserver unavailable")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.LoadInitial(ctx); err != nil {
		t.Errorf("LoadInitial() with a cancelled context = %v, want nil", err)
	}
	if f.ReadyCheck(nil) == nil {
		t.Error("ReadyCheck() should keep failing when the table never loaded")
	}
}
