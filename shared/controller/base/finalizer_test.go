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
	"reflect"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

const testFinalizer = "services.k8s.aws/tenant-credentials"

func TestFinalizerManager_HasFinalizer(t *testing.T) {
	fm := NewFinalizerManager(nil, testFinalizer)

	tests := []struct {
		name       string
		finalizers []string
		want       bool
	}{
		{name: "no finalizers", want: false},
		{name: "has other finalizer", finalizers: []string{"other.finalizer"}, want: false},
		{name: "has managed finalizer", finalizers: []string{testFinalizer}, want: true},
		{name: "has managed finalizer among others", finalizers: []string{"a", testFinalizer, "b"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := bucketConfigMap()
			cm.Finalizers = tt.finalizers
			if got := fm.HasFinalizer(cm); got != tt.want {
				t.Errorf("HasFinalizer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinalizerManager_EnsureAndRemove(t *testing.T) {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)

	tests := []struct {
		name       string
		initial    []string
		op         func(*FinalizerManager, context.Context, client.Object) error
		wantStored []string
	}{
		{
			name:       "ensure adds finalizer",
			op:         (*FinalizerManager).Ensure,
			wantStored: []string{testFinalizer},
		},
		{
			name:       "ensure is a no-op when present",
			initial:    []string{testFinalizer},
			op:         (*FinalizerManager).Ensure,
			wantStored: []string{testFinalizer},
		},
		{
			name:       "remove preserves other finalizers",
			initial:    []string{"other.finalizer", testFinalizer},
			op:         (*FinalizerManager).Remove,
			wantStored: []string{"other.finalizer"},
		},
		{
			name: "remove is a no-op when absent",
			op:   (*FinalizerManager).Remove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{
				Name: "bucket", Namespace: "marketing", Finalizers: tt.initial,
			}}
			c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(cm).Build()
			fm := NewFinalizerManager(c, testFinalizer)

			if err := tt.op(fm, context.Background(), cm); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			stored := &corev1.ConfigMap{}
			if err := c.Get(context.Background(), client.ObjectKeyFromObject(cm), stored); err != nil {
				t.Fatal(err)
			}
			if len(stored.Finalizers) != len(tt.wantStored) ||
				(len(tt.wantStored) > 0 && !reflect.DeepEqual(stored.Finalizers, tt.wantStored)) {
				t.Errorf("stored finalizers = %v, want %v", stored.Finalizers, tt.wantStored)
			}
		})
	}
}

func TestFinalizerManager_FinalizerName(t *testing.T) {
	if got := NewFinalizerManager(nil, testFinalizer).FinalizerName(); got != testFinalizer {
		t.Errorf("FinalizerName() = %v, want %v", got, testFinalizer)
	}
}
