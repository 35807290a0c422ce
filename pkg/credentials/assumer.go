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
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"

	"github.com/acornett21/ack-multi-tenancy/pkg/logger"
	"github.com/acornett21/ack-multi-tenancy/pkg/metrics"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// Session duration bounds accepted by AssumeRole.
const (
	MinAssumeRoleDuration     = 15 * time.Minute
	MaxAssumeRoleDuration     = 12 * time.Hour
	DefaultAssumeRoleDuration = 30 * time.Minute
)

// AssumeRoleAPI is the subset of the STS client used to assume roles.
// *sts.Client satisfies it.
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// AssumeRequest describes one role assumption.
type AssumeRequest struct {
	Account     string
	RoleARN     string
	SessionName string
	Duration    time.Duration
}

// Assumer exchanges the base identity for tenant credentials.
type Assumer struct {
	client AssumeRoleAPI
	policy RetryPolicy
	log    logr.Logger
}

// NewAssumer creates an Assumer. The SDK's own retryer is disabled on every
// call; policy is the only retry budget.
func NewAssumer(client AssumeRoleAPI, policy RetryPolicy, log logr.Logger) *Assumer {
	return &Assumer{
		client: client,
		policy: policy,
		log:    log,
	}
}

// ClampDuration bounds d to what AssumeRole accepts. Zero means the default.
func ClampDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultAssumeRoleDuration
	case d < MinAssumeRoleDuration:
		return MinAssumeRoleDuration
	case d > MaxAssumeRoleDuration:
		return MaxAssumeRoleDuration
	}
	return d
}

// Assume calls AssumeRole for req, retrying throttling and network failures.
// The returned credential expires when STS says it does.
func (a *Assumer) Assume(ctx context.Context, req AssumeRequest) (*Credential, error) {
	duration := ClampDuration(req.Duration)
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(req.RoleARN),
		RoleSessionName: aws.String(req.SessionName),
		DurationSeconds: aws.Int32(int32(duration / time.Second)),
	}

	log := a.log.WithValues(
		logger.KeyAccount, req.Account,
		logger.KeyRoleARN, req.RoleARN,
		logger.KeySessionName, req.SessionName,
	)

	clk := a.policy.clock()
	start := clk.Now()

	var out *sts.AssumeRoleOutput
	attempts, err := a.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = a.client.AssumeRole(ctx, input, func(o *sts.Options) {
			o.Retryer = aws.NopRetryer{}
		})
		if callErr != nil {
			log.V(1).Info("AssumeRole attempt failed", "kind", ClassifySTSError(callErr), "error", callErr.Error())
		}
		return callErr
	})
	elapsed := clk.Since(start)

	if err != nil {
		kind := ClassifySTSError(err)
		metrics.ObserveAssumeRole(req.Account, resultLabel(kind), attempts, elapsed)
		log.Info("role assumption failed", "kind", kind, "attempts", attempts, logger.KeyDuration, elapsed.String())
		return nil, a.wrapError(req, kind, attempts, err)
	}

	cred, err := credentialFromOutput(out)
	if err != nil {
		metrics.ObserveAssumeRole(req.Account, resultLabel(FailureMalformedResponse), attempts, elapsed)
		return nil, &infraerrors.TransientError{
			Operation: "assume role " + req.RoleARN,
			Cause:     err,
			Retryable: false,
		}
	}

	metrics.ObserveAssumeRole(req.Account, metrics.ResultSuccess, attempts, elapsed)
	log.V(1).Info("assumed role", "expires", cred.Expires, "attempts", attempts)
	return cred, nil
}

func (a *Assumer) wrapError(req AssumeRequest, kind FailureKind, attempts int, err error) error {
	switch kind {
	case FailureTrustDenied:
		return infraerrors.NewTrustDeniedError(req.Account, req.RoleARN, err)
	case FailureCanceled:
		return err
	case FailureThrottled, FailureNetworkTransient:
		return infraerrors.NewTransientError(
			fmt.Sprintf("assume role %s (%d attempts)", req.RoleARN, attempts), err)
	}
	return &infraerrors.TransientError{
		Operation: "assume role " + req.RoleARN,
		Cause:     err,
		Retryable: false,
	}
}

func credentialFromOutput(out *sts.AssumeRoleOutput) (*Credential, error) {
	if out == nil || out.Credentials == nil {
		return nil, ErrMalformedResponse
	}
	c := out.Credentials
	if aws.ToString(c.AccessKeyId) == "" || aws.ToString(c.SecretAccessKey) == "" || c.Expiration == nil {
		return nil, ErrMalformedResponse
	}
	return &Credential{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Expires:         *c.Expiration,
		CanExpire:       true,
		Source:          SourceAssumeRole,
	}, nil
}

func resultLabel(kind FailureKind) string {
	switch kind {
	case FailureTrustDenied:
		return metrics.ResultTrustDenied
	case FailureThrottled:
		return metrics.ResultThrottled
	}
	return metrics.ResultError
}
