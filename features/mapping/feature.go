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

// Package mapping implements the tenant mapping feature. It keeps the
// in-memory account to role table in step with the mapping ConfigMaps in the
// controller namespace.
//
// Feature-Driven Design: This package is organized as a vertical slice containing
// all components needed for the mapping feature (controller, handler).
package mapping

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/acornett21/ack-multi-tenancy/features/mapping/controller"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
)

// Feature is the entry point for the mapping feature.
type Feature struct {
	// Reconciler rebuilds the table on ConfigMap events
	Reconciler *controller.Reconciler

	// Store is the table other components read from
	Store *tenant.Store

	handler *controller.Handler
	log     logr.Logger
}

// Config contains configuration for creating a mapping Feature.
type Config struct {
	EventBus        *events.EventBus
	K8sClient       client.Reader
	Store           *tenant.Store
	SystemNamespace string
	MapName         string
	Log             logr.Logger
}

// New creates a new mapping Feature with all dependencies wired together.
func New(cfg Config) *Feature {
	featureLog := cfg.Log.WithName("mapping")

	handler := controller.NewHandler(controller.HandlerConfig{
		Client:          cfg.K8sClient,
		Store:           cfg.Store,
		EventBus:        cfg.EventBus,
		SystemNamespace: cfg.SystemNamespace,
		MapName:         cfg.MapName,
		Log:             featureLog.WithName("handler"),
	})

	return &Feature{
		Reconciler: controller.NewReconciler(handler, cfg.SystemNamespace, cfg.MapName, featureLog),
		Store:      cfg.Store,
		handler:    handler,
		log:        featureLog,
	}
}

// initialLoadInterval spaces attempts to load the table at startup.
const initialLoadInterval = 5 * time.Second

// SetupWithManager registers the mapping controller with the manager, plus a
// runnable that loads the table once caches are synced. Without it a cluster
// with no mapping ConfigMap would never produce a first table.
func (f *Feature) SetupWithManager(mgr ctrl.Manager) error {
	f.log.Info("setting up tenant mapping feature")
	if err := f.Reconciler.SetupWithManager(mgr); err != nil {
		return err
	}
	return mgr.Add(initialLoad{f})
}

// initialLoad runs on every replica so standby managers also report ready.
type initialLoad struct{ f *Feature }

var _ manager.LeaderElectionRunnable = initialLoad{}

func (l initialLoad) Start(ctx context.Context) error { return l.f.LoadInitial(ctx) }

func (initialLoad) NeedLeaderElection() bool { return false }

// LoadInitial rebuilds the table until it succeeds or ctx is cancelled.
func (f *Feature) LoadInitial(ctx context.Context) error {
	err := wait.PollUntilContextCancel(ctx, initialLoadInterval, true, func(ctx context.Context) (bool, error) {
		if err := f.handler.Rebuild(ctx); err != nil {
			f.log.Error(err, "initial tenant mapping load failed, retrying")
			return false, nil
		}
		return true, nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadyCheck fails until the first mapping table has been installed. It fits
// the manager's readyz checker signature.
func (f *Feature) ReadyCheck(_ *http.Request) error {
	if f.Store.Snapshot().Generation() == 0 {
		return errors.New("tenant mapping not loaded")
	}
	return nil
}
