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

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/acornett21/ack-multi-tenancy/features/mapping"
	tenantfeature "github.com/acornett21/ack-multi-tenancy/features/tenant"
	tenantcontroller "github.com/acornett21/ack-multi-tenancy/features/tenant/controller"
	"github.com/acornett21/ack-multi-tenancy/pkg/broker"
	"github.com/acornett21/ack-multi-tenancy/pkg/config"
	"github.com/acornett21/ack-multi-tenancy/pkg/credentials"
	"github.com/acornett21/ack-multi-tenancy/pkg/identity"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
)

const identityLoadTimeout = time.Minute

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	// Environment first; flags override it.
	cfg, loadErr := config.Load()

	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to. Use 0 to disable.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.StringVar(&cfg.SystemNamespace, "system-namespace", cfg.SystemNamespace,
		"Namespace holding the role account map and the base credentials Secret.")
	flag.StringVar(&cfg.RoleAccountMap, "role-account-map", cfg.RoleAccountMap, "Name of the primary role account map ConfigMap.")
	flag.BoolVar(&cfg.RequireAccountMapping, "require-account-mapping", cfg.RequireAccountMapping,
		"Reject annotated namespaces whose account has no role mapping instead of using the base identity.")
	flag.BoolVar(&cfg.EnableTenantPreflight, "enable-tenant-preflight", cfg.EnableTenantPreflight,
		"Periodically verify each tenant namespace's identity with sts:GetCallerIdentity.")
	opts := zap.Options{
		Development: false,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := errors.Join(loadErr, cfg.Validate()); err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "ack-multi-tenancy.services.k8s.aws",
		Cache: cache.Options{
			// Mapping ConfigMaps only live in the system namespace.
			ByObject: map[client.Object]cache.ByObject{
				&corev1.ConfigMap{}: {Namespaces: map[string]cache.Config{cfg.SystemNamespace: {}}},
			},
		},
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	// The informer cache is not running yet, so the base identity is read
	// through the API reader.
	loadCtx, cancel := context.WithTimeout(ctx, identityLoadTimeout)
	base, err := identity.Load(loadCtx, mgr.GetAPIReader(), identity.Options{
		Region:          cfg.Region,
		EndpointURL:     cfg.EndpointURL,
		SecretNamespace: cfg.SystemNamespace,
		SecretName:      cfg.BaseCredentialsSecret,
		AccountID:       cfg.AccountID,
	}, ctrl.Log.WithName("identity"))
	cancel()
	if err != nil {
		setupLog.Error(err, "unable to load base AWS identity")
		os.Exit(1)
	}

	log := ctrl.Log.WithName("broker")
	bus := events.NewEventBus(ctrl.Log.WithName("events"))
	store := tenant.NewStore(base.AccountID)
	resolver := tenant.NewResolver(tenant.ClientNamespaceReader{Reader: mgr.GetClient()}, base.AccountID, log)
	assumer := credentials.NewAssumer(base.STSClient(), cfg.RetryPolicy(), log.WithName("assumer"))
	cacheOpts := cfg.CacheOptions()
	cacheOpts.Log = log.WithName("cache")
	credentialCache := credentials.NewCache(assumer, base.Credentials(), cacheOpts)

	sessions := broker.New(resolver, store, credentialCache, base.Config, broker.Options{
		Partition:             cfg.Partition,
		RequireAccountMapping: cfg.RequireAccountMapping,
		Bus:                   bus,
		Log:                   log,
	})
	sessions.Subscribe(bus)

	mappingFeature := mapping.New(mapping.Config{
		EventBus:        bus,
		K8sClient:       mgr.GetClient(),
		Store:           store,
		SystemNamespace: cfg.SystemNamespace,
		MapName:         cfg.RoleAccountMap,
		Log:             ctrl.Log,
	})
	if err := mappingFeature.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to set up feature", "feature", "mapping")
		os.Exit(1)
	}

	tenantFeature := tenantfeature.New(tenantfeature.Config{
		EventBus:        bus,
		K8sClient:       mgr.GetClient(),
		Scheme:          mgr.GetScheme(),
		Sessions:        sessions,
		Recorder:        mgr.GetEventRecorderFor("ack-multi-tenancy"),
		EnablePreflight: cfg.EnableTenantPreflight,
		Interval:        cfg.TenantPreflightInterval,
		NewClient:       tenantcontroller.STSClientFactory(cfg.EndpointURL),
		SystemNamespace: cfg.SystemNamespace,
		MapName:         cfg.RoleAccountMap,
		Log:             ctrl.Log,
	})
	if err := tenantFeature.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to set up feature", "feature", "tenant")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("tenant-mapping", mappingFeature.ReadyCheck); err != nil {
		setupLog.Error(err, "unable to set up ready check", "check", "tenant-mapping")
		os.Exit(1)
	}

	setupLog.Info("starting manager",
		"homeAccount", base.AccountID,
		"systemNamespace", cfg.SystemNamespace,
		"tenantPreflight", cfg.EnableTenantPreflight,
	)
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
