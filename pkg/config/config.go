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

// Package config loads controller configuration from the environment.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/acornett21/ack-multi-tenancy/pkg/credentials"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// Environment variable names.
const (
	EnvSystemNamespace         = "ACK_SYSTEM_NAMESPACE"
	EnvAccountID               = "ACK_ACCOUNT_ID"
	EnvRegion                  = "AWS_REGION"
	EnvEndpointURL             = "AWS_ENDPOINT_URL"
	EnvPartition               = "AWS_PARTITION"
	EnvBaseCredentialsSecret   = "ACK_BASE_CREDENTIALS_SECRET"
	EnvRoleAccountMap          = "ACK_ROLE_ACCOUNT_MAP"
	EnvAssumeRoleDuration      = "ACK_ASSUME_ROLE_DURATION"
	EnvRefreshMargin           = "ACK_CREDENTIAL_REFRESH_MARGIN"
	EnvTrustDeniedHoldDown     = "ACK_TRUST_DENIED_HOLD_DOWN"
	EnvRefreshTimeout          = "ACK_REFRESH_TIMEOUT"
	EnvSTSMaxAttempts          = "ACK_STS_MAX_ATTEMPTS"
	EnvSTSInitialBackoff       = "ACK_STS_INITIAL_BACKOFF"
	EnvSTSMaxBackoff           = "ACK_STS_MAX_BACKOFF"
	EnvEnableTenantPreflight   = "ACK_ENABLE_TENANT_PREFLIGHT"
	EnvRequireAccountMapping   = "ACK_REQUIRE_ACCOUNT_MAPPING"
	EnvTenantPreflightInterval = "ACK_TENANT_PREFLIGHT_INTERVAL"
)

// Defaults.
const (
	DefaultSystemNamespace         = "ack-system"
	DefaultPartition               = "aws"
	DefaultRoleAccountMap          = "ack-role-account-map"
	DefaultTenantPreflightInterval = 10 * time.Minute
)

// Config is the controller configuration.
type Config struct {
	// SystemNamespace holds the mapping ConfigMaps and the base credentials Secret.
	SystemNamespace string
	// AccountID is the home account. Discovered through STS when empty.
	AccountID   string
	Region      string
	EndpointURL string
	Partition   string

	// BaseCredentialsSecret names a Secret with static base credentials.
	// The AWS default chain is used when empty.
	BaseCredentialsSecret string
	RoleAccountMap        string

	AssumeRoleDuration  time.Duration
	RefreshMargin       time.Duration
	TrustDeniedHoldDown time.Duration
	RefreshTimeout      time.Duration

	STSMaxAttempts    int
	STSInitialBackoff time.Duration
	STSMaxBackoff     time.Duration

	// RequireAccountMapping rejects annotated namespaces whose account has no mapping
	// instead of serving them the base identity.
	RequireAccountMapping bool

	EnableTenantPreflight   bool
	TenantPreflightInterval time.Duration
}

// Load reads the configuration from the environment.
// Unparseable values are reported together.
func Load() (Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := Config{
		SystemNamespace:         env(EnvSystemNamespace, DefaultSystemNamespace),
		AccountID:               env(EnvAccountID, ""),
		Region:                  env(EnvRegion, ""),
		EndpointURL:             env(EnvEndpointURL, ""),
		Partition:               env(EnvPartition, DefaultPartition),
		BaseCredentialsSecret:   env(EnvBaseCredentialsSecret, ""),
		RoleAccountMap:          env(EnvRoleAccountMap, DefaultRoleAccountMap),
		AssumeRoleDuration:      p.duration(EnvAssumeRoleDuration, credentials.DefaultAssumeRoleDuration),
		RefreshMargin:           p.duration(EnvRefreshMargin, credentials.DefaultRefreshMargin),
		TrustDeniedHoldDown:     p.duration(EnvTrustDeniedHoldDown, credentials.DefaultDeniedHoldDown),
		RefreshTimeout:          p.duration(EnvRefreshTimeout, credentials.DefaultRefreshTimeout),
		STSMaxAttempts:          p.integer(EnvSTSMaxAttempts, credentials.DefaultMaxAttempts),
		STSInitialBackoff:       p.duration(EnvSTSInitialBackoff, credentials.DefaultInitialBackoff),
		STSMaxBackoff:           p.duration(EnvSTSMaxBackoff, credentials.DefaultMaxBackoff),
		RequireAccountMapping:   p.boolean(EnvRequireAccountMapping, false),
		EnableTenantPreflight:   p.boolean(EnvEnableTenantPreflight, false),
		TenantPreflightInterval: p.duration(EnvTenantPreflightInterval, DefaultTenantPreflightInterval),
	}
	return cfg, errors.Join(p.errs...)
}

// Validate checks the configuration for values the controller cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.SystemNamespace == "" {
		errs = append(errs, infraerrors.NewValidationError(EnvSystemNamespace, "", "must not be empty"))
	}
	if c.AccountID != "" {
		if err := tenant.ValidateAccountID(c.AccountID); err != nil {
			errs = append(errs, infraerrors.NewValidationError(EnvAccountID, c.AccountID, err.Error()))
		}
	}
	if c.Partition == "" {
		errs = append(errs, infraerrors.NewValidationError(EnvPartition, "", "must not be empty"))
	}
	if c.RoleAccountMap == "" {
		errs = append(errs, infraerrors.NewValidationError(EnvRoleAccountMap, "", "must not be empty"))
	}
	if c.AssumeRoleDuration < credentials.MinAssumeRoleDuration || c.AssumeRoleDuration > credentials.MaxAssumeRoleDuration {
		errs = append(errs, infraerrors.NewValidationError(EnvAssumeRoleDuration, c.AssumeRoleDuration.String(),
			fmt.Sprintf("must be between %s and %s", credentials.MinAssumeRoleDuration, credentials.MaxAssumeRoleDuration)))
	}
	if c.RefreshMargin <= 0 || c.RefreshMargin >= c.AssumeRoleDuration {
		errs = append(errs, infraerrors.NewValidationError(EnvRefreshMargin, c.RefreshMargin.String(),
			"must be positive and shorter than the assume role duration"))
	}
	if c.TrustDeniedHoldDown < 0 {
		errs = append(errs, infraerrors.NewValidationError(EnvTrustDeniedHoldDown, c.TrustDeniedHoldDown.String(), "must not be negative"))
	}
	if c.RefreshTimeout <= 0 {
		errs = append(errs, infraerrors.NewValidationError(EnvRefreshTimeout, c.RefreshTimeout.String(), "must be positive"))
	}
	if c.STSMaxAttempts < 1 {
		errs = append(errs, infraerrors.NewValidationError(EnvSTSMaxAttempts, strconv.Itoa(c.STSMaxAttempts), "must be at least 1"))
	}
	if c.STSInitialBackoff < 0 || c.STSMaxBackoff < c.STSInitialBackoff {
		errs = append(errs, infraerrors.NewValidationError(EnvSTSMaxBackoff, c.STSMaxBackoff.String(),
			"must not be shorter than "+EnvSTSInitialBackoff))
	}
	if c.EnableTenantPreflight && c.TenantPreflightInterval <= 0 {
		errs = append(errs, infraerrors.NewValidationError(EnvTenantPreflightInterval, c.TenantPreflightInterval.String(), "must be positive"))
	}

	return errors.Join(errs...)
}

// RetryPolicy builds the STS retry policy from the configuration.
func (c Config) RetryPolicy() credentials.RetryPolicy {
	policy := credentials.DefaultRetryPolicy()
	policy.MaxAttempts = c.STSMaxAttempts
	policy.InitialDelay = c.STSInitialBackoff
	policy.MaxDelay = c.STSMaxBackoff
	return policy
}

// CacheOptions builds credential cache options from the configuration.
func (c Config) CacheOptions() credentials.CacheOptions {
	return credentials.CacheOptions{
		Partition:      c.Partition,
		Duration:       c.AssumeRoleDuration,
		RefreshMargin:  c.RefreshMargin,
		DeniedHoldDown: c.TrustDeniedHoldDown,
		RefreshTimeout: c.RefreshTimeout,
	}
}

func env(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

type parser struct {
	errs []error
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v := env(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, infraerrors.NewValidationError(k, v, "not a duration"))
		return def
	}
	return d
}

func (p *parser) integer(k string, def int) int {
	v := env(k, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, infraerrors.NewValidationError(k, v, "not an integer"))
		return def
	}
	return i
}

func (p *parser) boolean(k string, def bool) bool {
	v := env(k, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, infraerrors.NewValidationError(k, v, "not a boolean"))
		return def
	}
	return b
}
