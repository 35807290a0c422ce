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

// Package tenant implements the tenant namespace feature: Warning events on
// namespaces whose role refuses the trust exchange, and the optional preflight
// controller that verifies each tenant's identity.
package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acornett21/ack-multi-tenancy/features/tenant/controller"
	"github.com/acornett21/ack-multi-tenancy/shared/controller/base"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
)

// EventReasonTrustDenied is the Warning reason recorded on a namespace whose
// role refused the trust exchange.
const EventReasonTrustDenied = "TenantTrustDenied"

// Feature is the entry point for the tenant feature.
type Feature struct {
	// Reconciler is nil unless the preflight is enabled
	Reconciler *controller.Reconciler

	client   client.Reader
	recorder record.EventRecorder
	log      logr.Logger
}

// Config contains configuration for creating a tenant Feature.
type Config struct {
	EventBus  *events.EventBus
	K8sClient client.Client
	Scheme    *runtime.Scheme
	Sessions  base.SessionResolver
	Recorder  record.EventRecorder

	// EnablePreflight turns on the namespace preflight controller.
	EnablePreflight bool
	Interval        time.Duration
	NewClient       controller.ClientFactory

	SystemNamespace string
	MapName         string
	Log             logr.Logger
}

// New creates a new tenant Feature and subscribes it to TrustDenied events.
func New(cfg Config) *Feature {
	featureLog := cfg.Log.WithName("tenant")

	f := &Feature{
		client:   cfg.K8sClient,
		recorder: cfg.Recorder,
		log:      featureLog,
	}

	if cfg.EnablePreflight {
		h := controller.NewHandler(controller.HandlerConfig{
			NewClient: cfg.NewClient,
			Recorder:  cfg.Recorder,
			Log:       featureLog.WithName("handler"),
		})
		f.Reconciler = controller.NewReconciler(controller.ReconcilerConfig{
			Client:          cfg.K8sClient,
			Scheme:          cfg.Scheme,
			Sessions:        cfg.Sessions,
			Handler:         h,
			Interval:        cfg.Interval,
			SystemNamespace: cfg.SystemNamespace,
			MapName:         cfg.MapName,
			Log:             featureLog,
		})
	}

	if cfg.EventBus != nil {
		events.Subscribe[events.TrustDenied](cfg.EventBus, f.OnTrustDenied)
	}
	return f
}

// OnTrustDenied records a Warning event on the tenant namespace.
func (f *Feature) OnTrustDenied(ctx context.Context, e events.TrustDenied) error {
	if f.recorder == nil || e.Resource.Namespace == "" {
		return nil
	}

	ns := &corev1.Namespace{}
	if err := f.client.Get(ctx, types.NamespacedName{Name: e.Resource.Namespace}, ns); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get namespace %s: %w", e.Resource.Namespace, err)
	}

	msg := fmt.Sprintf("role %s in account %s refused the trust exchange", e.RoleARN, e.Account)
	if e.Resource.Name != "" {
		msg += fmt.Sprintf(" while reconciling %s %s", e.Resource.Kind, e.Resource.Name)
	}
	f.recorder.Event(ns, corev1.EventTypeWarning, EventReasonTrustDenied, msg+": "+e.Reason)
	return nil
}

// SetupWithManager registers the preflight controller when it is enabled.
func (f *Feature) SetupWithManager(mgr ctrl.Manager) error {
	if f.Reconciler == nil {
		f.log.Info("tenant preflight disabled")
		return nil
	}
	f.log.Info("setting up tenant preflight feature")
	return f.Reconciler.SetupWithManager(mgr)
}
