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

package tenant

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// NamespaceReader returns the annotations of a namespace.
type NamespaceReader interface {
	Annotations(ctx context.Context, namespace string) (map[string]string, error)
}

// +kubebuilder:rbac:groups="",resources=namespaces,verbs=get;list;watch

// ClientNamespaceReader reads namespaces through a controller-runtime reader,
// normally the manager's informer-backed cache.
type ClientNamespaceReader struct {
	Reader client.Reader
}

// Annotations implements NamespaceReader.
func (r ClientNamespaceReader) Annotations(ctx context.Context, namespace string) (map[string]string, error) {
	ns := &corev1.Namespace{}
	if err := r.Reader.Get(ctx, client.ObjectKey{Name: namespace}, ns); err != nil {
		return nil, err
	}
	return ns.GetAnnotations(), nil
}

// Resolution is the tenant a namespace belongs to.
type Resolution struct {
	Key TenantKey
	// Region overrides the controller region when non-empty.
	Region string
	// Annotated is true when the namespace named its owner account.
	Annotated bool
}

// Resolver derives TenantKeys from namespaces. Resolution is re-evaluated on
// every call; nothing is cached per object.
type Resolver struct {
	reader      NamespaceReader
	homeAccount string
	log         logr.Logger
}

// NewResolver creates a Resolver falling back to homeAccount.
func NewResolver(reader NamespaceReader, homeAccount string, log logr.Logger) *Resolver {
	return &Resolver{
		reader:      reader,
		homeAccount: homeAccount,
		log:         log,
	}
}

// Resolve reads the namespace's owner-account annotation. A missing, empty or
// malformed annotation resolves to the home account.
func (r *Resolver) Resolve(ctx context.Context, namespace string) (Resolution, error) {
	if namespace == "" {
		return Resolution{Key: TenantKey{Account: r.homeAccount}}, nil
	}

	annotations, err := r.reader.Annotations(ctx, namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Resolution{}, infraerrors.NewConfigurationError(namespace, "", "namespace not found")
		}
		return Resolution{}, infraerrors.NewTransientError("read namespace "+namespace, err)
	}

	res := Resolution{
		Key:    TenantKey{Account: r.homeAccount, Namespace: namespace},
		Region: strings.TrimSpace(annotations[AnnotationDefaultRegion]),
	}

	account := strings.TrimSpace(annotations[AnnotationOwnerAccountID])
	if account == "" {
		return res, nil
	}
	if err := ValidateAccountID(account); err != nil {
		r.log.Info("ignoring malformed owner account annotation",
			"namespace", namespace, "annotation", AnnotationOwnerAccountID, "reason", err.Error())
		return res, nil
	}

	res.Key.Account = account
	res.Annotated = true
	return res, nil
}
