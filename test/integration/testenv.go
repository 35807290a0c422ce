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

/*
Package integration provides the TestEnvironment for running the broker and
its controllers against a real API server.

TestEnvironment manages the lifecycle of:
- Kubernetes API server (via envtest)
- A controller manager running the mapping and tenant features
- A fake STS endpoint the broker assumes roles against
*/
package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/acornett21/ack-multi-tenancy/features/mapping"
	tenantfeature "github.com/acornett21/ack-multi-tenancy/features/tenant"
	"github.com/acornett21/ack-multi-tenancy/pkg/broker"
	"github.com/acornett21/ack-multi-tenancy/pkg/credentials"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
)

// Fixed names used by every suite.
const (
	HomeAccount     = "111111111111"
	SystemNamespace = "ack-system"
	MapName         = "ack-role-account-map"
)

var setupLog = logf.Log.WithName("test-setup")

// TestEnvironment coordinates envtest and the broker under test.
type TestEnvironment struct {
	// Kubernetes components
	Config    *rest.Config
	K8sClient client.Client
	TestEnv   *envtest.Environment
	Ctx       context.Context
	Cancel    context.CancelFunc

	// Broker components, set by StartManager
	STS     *FakeSTS
	Store   *tenant.Store
	Cache   *credentials.Cache
	Broker  *broker.Broker
	Bus     *events.EventBus
	Mapping *mapping.Feature

	opts *testEnvOptions
}

// TestEnvOption configures TestEnvironment
type TestEnvOption func(*testEnvOptions)

type testEnvOptions struct {
	startupTimeout     time.Duration
	useExistingCluster bool
	preflight          bool
	preflightInterval  time.Duration
	requireMapping     bool
}

func defaultTestEnvOptions() *testEnvOptions {
	return &testEnvOptions{
		startupTimeout:    60 * time.Second,
		preflightInterval: time.Minute,
	}
}

// WithTestEnvTimeout sets startup timeout
func WithTestEnvTimeout(timeout time.Duration) TestEnvOption {
	return func(o *testEnvOptions) {
		o.startupTimeout = timeout
	}
}

// WithExistingCluster uses an existing cluster instead of envtest
func WithExistingCluster() TestEnvOption {
	return func(o *testEnvOptions) {
		o.useExistingCluster = true
	}
}

// WithTenantPreflight enables the namespace preflight controller.
func WithTenantPreflight(interval time.Duration) TestEnvOption {
	return func(o *testEnvOptions) {
		o.preflight = true
		o.preflightInterval = interval
	}
}

// WithRequireAccountMapping rejects unmapped annotated accounts.
func WithRequireAccountMapping() TestEnvOption {
	return func(o *testEnvOptions) {
		o.requireMapping = true
	}
}

// NewTestEnvironment creates a new test environment
func NewTestEnvironment(opts ...TestEnvOption) *TestEnvironment {
	options := defaultTestEnvOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &TestEnvironment{
		opts: options,
	}
}

// Start initializes and starts the test environment
func (te *TestEnvironment) Start() error {
	logf.SetLogger(zap.New(zap.WriteTo(nil), zap.UseDevMode(true)))

	te.Ctx, te.Cancel = context.WithCancel(context.Background())

	te.TestEnv = &envtest.Environment{
		UseExistingCluster:       &te.opts.useExistingCluster,
		ControlPlaneStartTimeout: te.opts.startupTimeout,
	}

	cfg, err := te.TestEnv.Start()
	if err != nil {
		return fmt.Errorf("failed to start envtest: %w", err)
	}
	te.Config = cfg

	k8sClient, err := client.New(cfg, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		te.TestEnv.Stop() //nolint:errcheck
		return fmt.Errorf("failed to create k8s client: %w", err)
	}
	te.K8sClient = k8sClient

	setupLog.Info("test environment started", "k8s_host", cfg.Host)
	return nil
}

// StartManager wires the broker the way the controller binary does, with
// static base credentials and the fake STS, and starts a manager running the
// mapping and tenant features.
func (te *TestEnvironment) StartManager() error {
	mgr, err := ctrl.NewManager(te.Config, ctrl.Options{
		Scheme:  scheme.Scheme,
		Metrics: metricsserver.Options{BindAddress: "0"},
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	log := ctrl.Log.WithName("broker")
	base := aws.Config{
		Region:      "us-west-2",
		Credentials: awscreds.NewStaticCredentialsProvider(HomeAccessKeyID, "home-secret", ""),
	}

	te.STS = NewFakeSTS(HomeAccount)
	te.Bus = events.NewEventBus(ctrl.Log.WithName("events"))
	te.Store = tenant.NewStore(HomeAccount)
	resolver := tenant.NewResolver(tenant.ClientNamespaceReader{Reader: mgr.GetClient()}, HomeAccount, log)
	assumer := credentials.NewAssumer(te.STS, credentials.DefaultRetryPolicy(), log)
	te.Cache = credentials.NewCache(assumer, base.Credentials, credentials.CacheOptions{Log: log})

	te.Broker = broker.New(resolver, te.Store, te.Cache, base, broker.Options{
		RequireAccountMapping: te.opts.requireMapping,
		Bus:                   te.Bus,
		Log:                   log,
	})
	te.Broker.Subscribe(te.Bus)

	te.Mapping = mapping.New(mapping.Config{
		EventBus:        te.Bus,
		K8sClient:       mgr.GetClient(),
		Store:           te.Store,
		SystemNamespace: SystemNamespace,
		MapName:         MapName,
		Log:             ctrl.Log,
	})
	if err := te.Mapping.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("failed to set up mapping feature: %w", err)
	}

	tenantFeature := tenantfeature.New(tenantfeature.Config{
		EventBus:        te.Bus,
		K8sClient:       mgr.GetClient(),
		Scheme:          mgr.GetScheme(),
		Sessions:        te.Broker,
		Recorder:        mgr.GetEventRecorderFor("ack-multi-tenancy"),
		EnablePreflight: te.opts.preflight,
		Interval:        te.opts.preflightInterval,
		NewClient:       te.STS.CallerIdentityFactory(),
		SystemNamespace: SystemNamespace,
		MapName:         MapName,
		Log:             ctrl.Log,
	})
	if err := tenantFeature.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("failed to set up tenant feature: %w", err)
	}

	go func() {
		if err := mgr.Start(te.Ctx); err != nil {
			setupLog.Error(err, "manager exited")
		}
	}()

	syncCtx, cancel := context.WithTimeout(te.Ctx, te.opts.startupTimeout)
	defer cancel()
	if !mgr.GetCache().WaitForCacheSync(syncCtx) {
		return fmt.Errorf("manager cache did not sync")
	}
	return nil
}

// Stop tears down the test environment
func (te *TestEnvironment) Stop() error {
	if te.Cancel != nil {
		te.Cancel()
	}

	if te.TestEnv != nil {
		if err := te.TestEnv.Stop(); err != nil {
			return fmt.Errorf("failed to stop envtest: %w", err)
		}
	}

	setupLog.Info("test environment stopped")
	return nil
}
