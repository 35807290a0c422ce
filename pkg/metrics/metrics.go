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

// Package metrics provides Prometheus metrics for the credential broker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "ack_multi_tenancy"

// Result labels for metrics.
const (
	ResultSuccess     = "success"
	ResultTrustDenied = "trust_denied"
	ResultThrottled   = "throttled"
	ResultError       = "error"
)

// Cache outcome labels.
const (
	CacheHit       = "hit"
	CacheRefreshed = "refreshed"
	CacheStale     = "stale"
	CacheDenied    = "denied"
	CacheError     = "error"
)

var (
	// AssumeRoleTotal counts completed role assumptions, after retries.
	AssumeRoleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sts",
			Name:      "assume_role_total",
			Help:      "Total number of role assumptions by tenant account and result",
		},
		[]string{"account", "result"},
	)

	// AssumeRoleAttempts counts individual STS calls, including retries.
	AssumeRoleAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sts",
			Name:      "assume_role_attempts_total",
			Help:      "Total number of AssumeRole calls including retries",
		},
	)

	// AssumeRoleDuration observes the latency of a role assumption including retries.
	AssumeRoleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sts",
			Name:      "assume_role_duration_seconds",
			Help:      "Latency of role assumptions including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// CacheRequestsTotal counts credential cache lookups by outcome.
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential_cache",
			Name:      "requests_total",
			Help:      "Total number of credential cache requests by outcome",
		},
		[]string{"outcome"},
	)

	// CacheEntriesGauge tracks the number of cached credentials.
	CacheEntriesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credential_cache",
			Name:      "entries",
			Help:      "Number of tenant credentials held in the cache",
		},
	)

	// MappingEntriesGauge tracks the size of the installed mapping table.
	MappingEntriesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "entries",
			Help:      "Number of account to role mappings in the installed table",
		},
	)

	// MappingSkippedGauge tracks mapping entries dropped as malformed or ambiguous.
	MappingSkippedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "skipped_entries",
			Help:      "Number of mapping entries skipped as malformed or ambiguous",
		},
	)

	// MappingGeneration exposes the generation of the installed mapping table.
	MappingGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "generation",
			Help:      "Generation of the installed mapping table",
		},
	)

	// ResolutionFailuresTotal counts failed credential resolutions by error class.
	ResolutionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "resolution_failures_total",
			Help:      "Total number of failed credential resolutions by error class",
		},
		[]string{"class"},
	)

	// TenantIdentityVerifiedGauge reports the last preflight result per tenant namespace.
	// Value is 1 for verified, 0 for failed.
	TenantIdentityVerifiedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "identity_verified",
			Help:      "Tenant identity preflight status (1=verified, 0=failed)",
		},
		[]string{"namespace", "account"},
	)
)

func init() {
	// Register all metrics with the controller-runtime metrics registry
	metrics.Registry.MustRegister(
		AssumeRoleTotal,
		AssumeRoleAttempts,
		AssumeRoleDuration,
		CacheRequestsTotal,
		CacheEntriesGauge,
		MappingEntriesGauge,
		MappingSkippedGauge,
		MappingGeneration,
		ResolutionFailuresTotal,
		TenantIdentityVerifiedGauge,
	)
}

// ObserveAssumeRole records a completed role assumption.
func ObserveAssumeRole(account, result string, attempts int, elapsed time.Duration) {
	AssumeRoleTotal.WithLabelValues(account, result).Inc()
	AssumeRoleAttempts.Add(float64(attempts))
	AssumeRoleDuration.Observe(elapsed.Seconds())
}

// IncrementCacheRequest increments the cache request counter.
func IncrementCacheRequest(outcome string) {
	CacheRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetCacheEntries sets the cache entry count.
func SetCacheEntries(count int) {
	CacheEntriesGauge.Set(float64(count))
}

// SetMapping records the shape of a newly installed mapping table.
func SetMapping(entries, skipped int, generation uint64) {
	MappingEntriesGauge.Set(float64(entries))
	MappingSkippedGauge.Set(float64(skipped))
	MappingGeneration.Set(float64(generation))
}

// IncrementResolutionFailure increments the resolution failure counter.
func IncrementResolutionFailure(class string) {
	ResolutionFailuresTotal.WithLabelValues(class).Inc()
}

// SetTenantIdentityVerified sets the preflight status for a tenant namespace.
func SetTenantIdentityVerified(namespace, account string, verified bool) {
	val := 0.0
	if verified {
		val = 1.0
	}
	TenantIdentityVerifiedGauge.WithLabelValues(namespace, account).Set(val)
}

// DeleteTenantIdentity removes the preflight series for a namespace.
func DeleteTenantIdentity(namespace, account string) {
	TenantIdentityVerifiedGauge.DeleteLabelValues(namespace, account)
}
