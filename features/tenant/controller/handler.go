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
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	"github.com/acornett21/ack-multi-tenancy/pkg/broker"
	"github.com/acornett21/ack-multi-tenancy/pkg/credentials"
	"github.com/acornett21/ack-multi-tenancy/pkg/identity"
	"github.com/acornett21/ack-multi-tenancy/pkg/metrics"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/controller/base"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// Event reasons emitted on tenant namespaces.
const (
	EventReasonIdentityVerified = "TenantIdentityVerified"
	EventReasonAccountMismatch  = "TenantAccountMismatch"
	EventReasonVerifyFailed     = "TenantIdentityUnverified"
)

// ClientFactory builds the caller identity client for a tenant session's config.
type ClientFactory func(cfg aws.Config) identity.CallerIdentityAPI

// STSClientFactory returns a ClientFactory for real STS clients, honoring a
// custom endpoint.
func STSClientFactory(endpointURL string) ClientFactory {
	return func(cfg aws.Config) identity.CallerIdentityAPI {
		return identity.NewSTSClient(cfg, endpointURL)
	}
}

// HandlerConfig contains configuration for creating a Handler.
type HandlerConfig struct {
	NewClient ClientFactory
	Recorder  record.EventRecorder
	Log       logr.Logger
}

// Handler verifies that a tenant namespace's session really acts in the
// annotated account.
type Handler struct {
	newClient ClientFactory
	recorder  record.EventRecorder
	log       logr.Logger

	mu sync.Mutex
	// reported tracks the account label each namespace's gauge was last set
	// under, and whether it was verified.
	reported map[string]report
}

type report struct {
	account  string
	verified bool
}

var _ base.FeatureHandler[*corev1.Namespace] = (*Handler)(nil)

// NewHandler creates a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		newClient: cfg.NewClient,
		recorder:  cfg.Recorder,
		log:       cfg.Log,
		reported:  make(map[string]report),
	}
}

// Sync calls GetCallerIdentity with the namespace's session and compares the
// answer with the owner annotation.
func (h *Handler) Sync(ctx context.Context, ns *corev1.Namespace, session *broker.Session) error {
	account := strings.TrimSpace(ns.GetAnnotations()[tenant.AnnotationOwnerAccountID])
	if account == "" {
		h.Forget(ns.Name)
		return nil
	}

	out, err := h.newClient(session.Config()).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		h.set(ns, account, false)
		if credentials.IsRetryable(err) {
			return infraerrors.NewTransientError("verify tenant identity", err)
		}
		h.event(ns, corev1.EventTypeWarning, EventReasonVerifyFailed, err.Error())
		return infraerrors.NewConfigurationError(ns.Name, account, fmt.Sprintf("verify tenant identity: %v", err))
	}

	got := aws.ToString(out.Account)
	if got != account {
		h.set(ns, account, false)
		msg := fmt.Sprintf("credentials act in account %s", got)
		if session.IsDefault() {
			msg += "; the account has no role mapping"
		}
		h.event(ns, corev1.EventTypeWarning, EventReasonAccountMismatch, msg)
		return infraerrors.NewConfigurationError(ns.Name, account, msg)
	}

	if !h.set(ns, account, true) {
		h.event(ns, corev1.EventTypeNormal, EventReasonIdentityVerified,
			fmt.Sprintf("verified %s in account %s", aws.ToString(out.Arn), account))
	}
	return nil
}

// Cleanup is a no-op: the preflight owns nothing in AWS.
func (h *Handler) Cleanup(_ context.Context, ns *corev1.Namespace, _ *broker.Session) error {
	h.Forget(ns.Name)
	return nil
}

// Forget drops the gauge series for a namespace.
func (h *Handler) Forget(namespace string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.reported[namespace]; ok {
		metrics.DeleteTenantIdentity(namespace, prev.account)
		delete(h.reported, namespace)
	}
}

// set records the verification result and reports whether the namespace was
// already verified under the same account.
func (h *Handler) set(ns *corev1.Namespace, account string, verified bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.reported[ns.Name]
	if ok && prev.account != account {
		metrics.DeleteTenantIdentity(ns.Name, prev.account)
		ok = false
	}
	h.reported[ns.Name] = report{account: account, verified: verified}
	metrics.SetTenantIdentityVerified(ns.Name, account, verified)
	return ok && prev.verified && verified
}

func (h *Handler) event(ns *corev1.Namespace, eventType, reason, message string) {
	if h.recorder != nil {
		h.recorder.Event(ns, eventType, reason, message)
	}
}
