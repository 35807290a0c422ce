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

package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/acornett21/ack-multi-tenancy/pkg/logger"
	"github.com/acornett21/ack-multi-tenancy/pkg/metrics"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

const (
	// DefaultRefreshMargin is how long before expiry a credential is refreshed.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultDeniedHoldDown is how long a trust denial is remembered.
	DefaultDeniedHoldDown = 5 * time.Minute

	// DefaultRefreshTimeout bounds one refresh including retries.
	DefaultRefreshTimeout = 30 * time.Second
)

// RoleAssumer mints credentials for a role. *Assumer implements it.
type RoleAssumer interface {
	Assume(ctx context.Context, req AssumeRequest) (*Credential, error)
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Partition expands short role references. Defaults to "aws".
	Partition string

	// Duration is the requested session duration.
	Duration time.Duration

	RefreshMargin  time.Duration
	DeniedHoldDown time.Duration
	RefreshTimeout time.Duration

	Clock clock.Clock
	Log   logr.Logger
}

func (o *CacheOptions) setDefaults() {
	if o.Partition == "" {
		o.Partition = "aws"
	}
	if o.Duration == 0 {
		o.Duration = DefaultAssumeRoleDuration
	}
	if o.RefreshMargin == 0 {
		o.RefreshMargin = DefaultRefreshMargin
	}
	if o.DeniedHoldDown == 0 {
		o.DeniedHoldDown = DefaultDeniedHoldDown
	}
	if o.RefreshTimeout == 0 {
		o.RefreshTimeout = DefaultRefreshTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
}

// entry is an installed credential. It is never mutated after install.
type entry struct {
	cred       *Credential
	role       tenant.RoleReference
	generation uint64
}

type denial struct {
	role  tenant.RoleReference
	err   error
	until time.Time
}

// slot holds the state of one TenantKey.
type slot struct {
	entry  atomic.Pointer[entry]
	denied atomic.Pointer[denial]
}

type flightResult struct {
	cred       *Credential
	role       tenant.RoleReference
	generation uint64
	err        error
	stale      bool
	hit        bool
}

// Cache holds one credential per TenantKey and refreshes it on demand.
// Refreshes for a key are single-flight; different keys never wait on each other.
type Cache struct {
	assumer RoleAssumer
	base    aws.CredentialsProvider
	opts    CacheOptions

	slots sync.Map // tenant.TenantKey -> *slot
	group singleflight.Group
}

// NewCache creates a Cache. Lookups resolving to the default role are served
// from base; all others go through assumer.
func NewCache(assumer RoleAssumer, base aws.CredentialsProvider, opts CacheOptions) *Cache {
	opts.setDefaults()
	return &Cache{
		assumer: assumer,
		base:    base,
		opts:    opts,
	}
}

// Get returns a credential for key under the role chosen by lookup.
//
// A cached credential is returned without any external call as long as it
// was minted for the same role and does not expire within the refresh
// margin. Otherwise the caller joins the refresh in flight for key, or
// starts one. If ctx ends first the caller detaches with ctx.Err() and the
// refresh keeps running for the other waiters.
func (c *Cache) Get(ctx context.Context, key tenant.TenantKey, lookup tenant.Lookup) (*Credential, error) {
	role := lookup.Role()
	s := c.slot(key)

	for {
		now := c.opts.Clock.Now()

		if e := s.entry.Load(); e != nil && c.serves(e, role, lookup.Generation) && !e.cred.ExpiresWithin(now, c.opts.RefreshMargin) {
			metrics.IncrementCacheRequest(metrics.CacheHit)
			return e.cred, nil
		}

		if d := s.denied.Load(); d != nil && d.role == role && now.Before(d.until) {
			metrics.IncrementCacheRequest(metrics.CacheDenied)
			return nil, d.err
		}

		ch := c.group.DoChan(key.String(), func() (interface{}, error) {
			return c.refresh(ctx, key, lookup, s), nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			fr := res.Val.(*flightResult)
			if fr.role != role && fr.generation <= lookup.Generation {
				// The flight was minting for another role; start our own.
				continue
			}
			switch {
			case fr.err != nil && infraerrors.IsTrustDeniedError(fr.err):
				metrics.IncrementCacheRequest(metrics.CacheDenied)
			case fr.err != nil:
				metrics.IncrementCacheRequest(metrics.CacheError)
			case fr.stale:
				metrics.IncrementCacheRequest(metrics.CacheStale)
			case fr.hit:
				metrics.IncrementCacheRequest(metrics.CacheHit)
			default:
				metrics.IncrementCacheRequest(metrics.CacheRefreshed)
			}
			return fr.cred, fr.err
		}
	}
}

// serves reports whether e may answer a lookup for role at generation.
// An entry minted under a newer mapping than the caller saw is preferred
// over the caller's older view.
func (c *Cache) serves(e *entry, role tenant.RoleReference, generation uint64) bool {
	return e.role == role || e.generation > generation
}

// refresh runs inside the single flight for key. It is detached from the
// cancellation of the caller that started it and bounded by RefreshTimeout.
func (c *Cache) refresh(parent context.Context, key tenant.TenantKey, lookup tenant.Lookup, s *slot) *flightResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.RefreshTimeout)
	defer cancel()

	role := lookup.Role()
	log := logger.WithTenant(c.opts.Log, key.Account, key.Namespace).WithValues("role", role.String())
	result := &flightResult{role: role, generation: lookup.Generation}

	// Another flight may have finished between the caller's check and this one.
	prev := s.entry.Load()
	now := c.opts.Clock.Now()
	if prev != nil && c.serves(prev, role, lookup.Generation) && !prev.cred.ExpiresWithin(now, c.opts.RefreshMargin) {
		return &flightResult{cred: prev.cred, role: prev.role, generation: prev.generation, hit: true}
	}
	if d := s.denied.Load(); d != nil && d.role == role && now.Before(d.until) {
		result.err = d.err
		return result
	}

	cred, err := c.fetch(ctx, key, role)
	now = c.opts.Clock.Now()

	if err != nil {
		if infraerrors.IsTrustDeniedError(err) {
			s.denied.Store(&denial{role: role, err: err, until: now.Add(c.opts.DeniedHoldDown)})
			if prev != nil && prev.role == role {
				s.entry.CompareAndSwap(prev, nil)
				c.updateGauge()
			}
			log.Info("trust denied, holding down further attempts", "holdDown", c.opts.DeniedHoldDown.String())
			result.err = err
			return result
		}
		if prev != nil && prev.role == role && !prev.cred.Expired(now) {
			log.Info("refresh failed, serving previous credential until it expires",
				logger.KeyError, err.Error(), "expires", prev.cred.Expires)
			result.cred = prev.cred
			result.stale = true
			return result
		}
		result.err = err
		return result
	}

	s.denied.Store(nil)
	c.install(s, &entry{cred: cred, role: role, generation: lookup.Generation})
	log.V(1).Info("credential refreshed", "source", cred.Source)
	result.cred = cred
	return result
}

// install stores next unless an entry from a newer mapping generation is
// already in place.
func (c *Cache) install(s *slot, next *entry) bool {
	for {
		cur := s.entry.Load()
		if cur != nil && cur.generation > next.generation {
			return false
		}
		if s.entry.CompareAndSwap(cur, next) {
			if cur == nil {
				c.updateGauge()
			}
			return true
		}
	}
}

func (c *Cache) fetch(ctx context.Context, key tenant.TenantKey, role tenant.RoleReference) (*Credential, error) {
	if role.IsDefault() {
		if c.base == nil {
			return nil, infraerrors.NewConfigurationError(key.Namespace, key.Account, "no base identity configured")
		}
		creds, err := c.base.Retrieve(ctx)
		if err != nil {
			return nil, infraerrors.NewTransientError("retrieve base identity credentials", err)
		}
		return FromAWS(creds, SourceBaseIdentity), nil
	}

	return c.assumer.Assume(ctx, AssumeRequest{
		Account:     key.Account,
		RoleARN:     role.ARN(c.opts.Partition, key.Account),
		SessionName: SessionName(key),
		Duration:    c.opts.Duration,
	})
}

func (c *Cache) slot(key tenant.TenantKey) *slot {
	if s, ok := c.slots.Load(key); ok {
		return s.(*slot)
	}
	s, _ := c.slots.LoadOrStore(key, &slot{})
	return s.(*slot)
}

// Forget drops everything cached for key.
func (c *Cache) Forget(key tenant.TenantKey) {
	c.slots.Delete(key)
	c.updateGauge()
}

// Prune drops every key for which keep returns false and reports how many
// keys were dropped.
func (c *Cache) Prune(keep func(tenant.TenantKey) bool) int {
	pruned := 0
	c.slots.Range(func(k, _ interface{}) bool {
		key := k.(tenant.TenantKey)
		if !keep(key) {
			c.slots.Delete(key)
			pruned++
		}
		return true
	})
	if pruned > 0 {
		c.updateGauge()
	}
	return pruned
}

// Len returns the number of keys holding a credential.
func (c *Cache) Len() int {
	n := 0
	c.slots.Range(func(_, v interface{}) bool {
		if v.(*slot).entry.Load() != nil {
			n++
		}
		return true
	})
	return n
}

func (c *Cache) updateGauge() {
	metrics.SetCacheEntries(c.Len())
}
