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

// Package broker hands reconciliations the AWS identity of the tenant that
// owns their namespace.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acornett21/ack-multi-tenancy/pkg/credentials"
	"github.com/acornett21/ack-multi-tenancy/pkg/logger"
	"github.com/acornett21/ack-multi-tenancy/pkg/metrics"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// TenantResolver maps a namespace to its tenant. *tenant.Resolver implements it.
type TenantResolver interface {
	Resolve(ctx context.Context, namespace string) (tenant.Resolution, error)
}

// CredentialSource serves cached tenant credentials. *credentials.Cache implements it.
type CredentialSource interface {
	Get(ctx context.Context, key tenant.TenantKey, lookup tenant.Lookup) (*credentials.Credential, error)
	Prune(keep func(tenant.TenantKey) bool) int
}

// Session is the identity one reconciliation runs under.
type Session struct {
	Key  tenant.TenantKey
	Role tenant.RoleReference
	// RoleARN is empty for the base identity.
	RoleARN    string
	Region     string
	Credential *credentials.Credential
	// Generation is the mapping generation the role was looked up under.
	Generation uint64

	base aws.Config
}

// IsDefault reports whether the session uses the controller's base identity.
func (s *Session) IsDefault() bool {
	return s.Role.IsDefault()
}

// Config returns a copy of the base AWS configuration carrying the session's
// credentials and region. The returned config never refreshes itself; resolve
// a new session for the next reconciliation.
func (s *Session) Config() aws.Config {
	cfg := s.base.Copy()
	cfg.Credentials = s.Credential
	if s.Region != "" {
		cfg.Region = s.Region
	}
	return cfg
}

// Options configures a Broker.
type Options struct {
	// Partition expands short role references in session metadata.
	Partition string

	// RequireAccountMapping rejects annotated accounts that have no mapped role
	// instead of serving them the base identity.
	RequireAccountMapping bool

	// Bus receives TrustDenied events. Optional.
	Bus *events.EventBus

	Log logr.Logger
}

// Broker resolves namespace, role and credential for each reconciliation.
type Broker struct {
	resolver TenantResolver
	store    *tenant.Store
	cache    CredentialSource
	base     aws.Config
	opts     Options
}

// New creates a Broker. base is the controller's AWS configuration; sessions
// are copies of it.
func New(resolver TenantResolver, store *tenant.Store, cache CredentialSource, base aws.Config, opts Options) *Broker {
	if opts.Partition == "" {
		opts.Partition = "aws"
	}
	return &Broker{
		resolver: resolver,
		store:    store,
		cache:    cache,
		base:     base,
		opts:     opts,
	}
}

// ResolveCredentials returns the session for a reconciliation of obj in
// namespace. Errors are classified with infraerrors.Classify; callers decide
// how to requeue. Nothing is retried here.
func (b *Broker) ResolveCredentials(ctx context.Context, namespace string, obj client.Object) (*Session, error) {
	log := logger.WithOperation(logger.FromContext(ctx), logger.OpResolve)

	res, err := b.resolver.Resolve(ctx, namespace)
	if err != nil {
		return nil, b.fail(log, err)
	}

	lookup := b.store.ResolveRole(res.Key)
	if res.Annotated && !lookup.Found && res.Key.Account != b.store.HomeAccount() && b.opts.RequireAccountMapping {
		return nil, b.fail(log, infraerrors.NewConfigurationError(namespace, res.Key.Account, "no role mapped for account"))
	}

	role := lookup.Role()
	session := &Session{
		Key:        res.Key,
		Role:       role,
		Region:     res.Region,
		Generation: lookup.Generation,
		base:       b.base,
	}
	if !role.IsDefault() {
		session.RoleARN = role.ARN(b.opts.Partition, res.Key.Account)
	}

	log = logger.WithTenant(log, res.Key.Account, namespace)
	cred, err := b.cache.Get(ctx, res.Key, lookup)
	if err != nil {
		if infraerrors.IsTrustDeniedError(err) {
			b.publishTrustDenied(ctx, log, session, obj, err)
		}
		return nil, b.fail(log, err)
	}
	session.Credential = cred

	log.V(1).Info("resolved tenant session",
		logger.KeyRoleARN, session.RoleARN, logger.KeyGeneration, session.Generation)
	return session, nil
}

func (b *Broker) fail(log logr.Logger, err error) error {
	class := infraerrors.Classify(err)
	metrics.IncrementResolutionFailure(string(class))
	if !errors.Is(err, context.Canceled) {
		log.V(1).Info("credential resolution failed", logger.KeyError, err.Error(), logger.KeyErrorClass, string(class))
	}
	return err
}

func (b *Broker) publishTrustDenied(ctx context.Context, log logr.Logger, s *Session, obj client.Object, err error) {
	if b.opts.Bus == nil {
		return
	}
	event := events.NewTrustDenied(s.Key.Account, s.RoleARN, resourceInfo(s.Key.Namespace, obj), err.Error())
	if pubErr := b.opts.Bus.Publish(ctx, event); pubErr != nil {
		log.Error(pubErr, "failed to publish trust denied event")
	}
}

// Subscribe registers the broker's handlers on bus.
func (b *Broker) Subscribe(bus *events.EventBus) {
	events.Subscribe[events.MappingUpdated](bus, b.OnMappingUpdated)
}

// OnMappingUpdated drops cached credentials of accounts whose mapping was
// removed or changed, so revoked roles stop being served before they expire.
func (b *Broker) OnMappingUpdated(_ context.Context, e events.MappingUpdated) error {
	affected := e.Affected()
	if len(affected) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(affected))
	for _, account := range affected {
		drop[account] = struct{}{}
	}
	pruned := b.cache.Prune(func(key tenant.TenantKey) bool {
		_, ok := drop[key.Account]
		return !ok
	})
	b.opts.Log.Info("pruned credentials after mapping update",
		logger.KeyGeneration, e.Generation, "accounts", len(affected), "entries", pruned)
	return nil
}

func resourceInfo(namespace string, obj client.Object) events.ResourceInfo {
	if obj == nil {
		return events.ResourceInfo{Namespace: namespace}
	}
	kind := obj.GetObjectKind().GroupVersionKind().Kind
	if kind == "" {
		kind = fmt.Sprintf("%T", obj)
	}
	return events.ResourceInfo{Name: obj.GetName(), Namespace: namespace, Kind: kind}
}
