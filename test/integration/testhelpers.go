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

package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
)

var (
	sharedTestEnv *TestEnvironment
	sharedCtx     context.Context
	sharedCancel  context.CancelFunc
	sharedMu      sync.RWMutex
)

// SetTestEnv sets the shared test environment (called from suite_test.go)
func SetTestEnv(env *TestEnvironment) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedTestEnv = env
}

// GetTestEnv returns the shared test environment
func GetTestEnv() *TestEnvironment {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return sharedTestEnv
}

// SetContext sets the shared context (called from suite_test.go)
func SetContext(ctx context.Context, cancel context.CancelFunc) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedCtx = ctx
	sharedCancel = cancel
}

// GetContext returns the shared context
func GetContext() context.Context {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return sharedCtx
}

// UniqueName appends a random suffix to baseName.
func UniqueName(baseName string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return baseName + "-" + hex.EncodeToString(b)
}

// CreateTenantNamespace creates a namespace owned by account. An empty
// account creates a plain namespace.
func CreateTenantNamespace(ctx context.Context, c client.Client, baseName, account string) (*corev1.Namespace, error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: UniqueName(baseName)}}
	if account != "" {
		ns.Annotations = map[string]string{tenant.AnnotationOwnerAccountID: account}
	}
	return ns, c.Create(ctx, ns)
}

// EnsureSystemNamespace creates the controller namespace if it is missing.
func EnsureSystemNamespace(ctx context.Context, c client.Client) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: SystemNamespace}}
	if err := c.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// ApplyMapping creates or replaces the primary mapping ConfigMap.
func ApplyMapping(ctx context.Context, c client.Client, data map[string]string) error {
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: SystemNamespace, Name: MapName}}
	err := c.Get(ctx, client.ObjectKeyFromObject(cm), cm)
	switch {
	case apierrors.IsNotFound(err):
		cm.Data = data
		return c.Create(ctx, cm)
	case err != nil:
		return err
	}
	cm.Data = data
	return c.Update(ctx, cm)
}
