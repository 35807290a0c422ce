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
Package identity loads the controller's own AWS identity.

The base identity comes from one of:
  - static keys in a Kubernetes Secret in the controller namespace
  - IAM Roles for Service Accounts (IRSA) on EKS
  - the rest of the AWS default chain (environment, shared config, instance profile)

Tenant roles are assumed from this identity, and namespaces without a tenant
annotation are served it directly.
*/
package identity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// Secret data keys for static base credentials.
const (
	SecretKeyAccessKeyID     = "aws_access_key_id"
	SecretKeySecretAccessKey = "aws_secret_access_key"
	SecretKeySessionToken    = "aws_session_token"
)

// Options contains options for loading the base identity.
type Options struct {
	// Region is the AWS region (SDK default chain when empty)
	Region string

	// EndpointURL overrides the STS endpoint
	EndpointURL string

	// SecretNamespace and SecretName locate static credentials. The AWS
	// default chain is used when SecretName is empty.
	SecretNamespace string
	SecretName      string

	// AccountID is the configured home account. Discovered with
	// GetCallerIdentity when empty.
	AccountID string
}

// CallerIdentityAPI is the subset of the STS client used to discover an account.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Base is the controller's own AWS identity.
type Base struct {
	// Config carries the region and base credentials provider.
	Config aws.Config

	// AccountID is the home account.
	AccountID string

	endpointURL string
}

// Credentials returns the base credentials provider.
func (b *Base) Credentials() aws.CredentialsProvider {
	return b.Config.Credentials
}

// STSClient creates an STS client for the base identity.
func (b *Base) STSClient() *sts.Client {
	return NewSTSClient(b.Config, b.endpointURL)
}

// NewSTSClient creates an STS client for cfg, honoring a custom endpoint.
func NewSTSClient(cfg aws.Config, endpointURL string) *sts.Client {
	return sts.NewFromConfig(cfg, func(o *sts.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
	})
}

// Load loads the base identity and resolves the home account.
// reader should not depend on a started cache; the manager's APIReader works.
func Load(ctx context.Context, reader client.Reader, opts Options, log logr.Logger) (*Base, error) {
	cfg, err := loadAWSConfig(ctx, reader, opts, log)
	if err != nil {
		return nil, err
	}

	base := &Base{Config: cfg, endpointURL: opts.EndpointURL}
	account, err := ResolveAccountID(ctx, opts.AccountID, func() CallerIdentityAPI { return base.STSClient() })
	if err != nil {
		return nil, err
	}
	base.AccountID = account
	log.Info("loaded base identity", "account", account, "region", cfg.Region)
	return base, nil
}

// loadAWSConfig loads AWS configuration with support for static Secret
// credentials and IRSA.
func loadAWSConfig(ctx context.Context, reader client.Reader, opts Options, log logr.Logger) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	switch {
	case opts.SecretName != "":
		provider, err := CredentialsFromSecret(ctx, reader, opts.SecretNamespace, opts.SecretName)
		if err != nil {
			return aws.Config{}, err
		}
		log.Info("using static base credentials", "secret", opts.SecretNamespace+"/"+opts.SecretName)
		configOpts = append(configOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(provider)))

	case os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE") != "":
		// IRSA injects AWS_WEB_IDENTITY_TOKEN_FILE and AWS_ROLE_ARN
		tokenFile := os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE")
		roleARN := os.Getenv("AWS_ROLE_ARN")
		if roleARN == "" {
			return aws.Config{}, infraerrors.NewConfigurationError("", "",
				"AWS_ROLE_ARN not set but AWS_WEB_IDENTITY_TOKEN_FILE is present")
		}

		baseCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load base AWS config: %w", err)
		}

		webIdentityProvider := stscreds.NewWebIdentityRoleProvider(
			NewSTSClient(baseCfg, opts.EndpointURL),
			roleARN,
			stscreds.IdentityTokenFile(tokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if sessionName := os.Getenv("AWS_ROLE_SESSION_NAME"); sessionName != "" {
					o.RoleSessionName = sessionName
				}
			},
		)
		log.Info("using web identity base credentials", "roleARN", roleARN)
		configOpts = append(configOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(webIdentityProvider)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// +kubebuilder:rbac:groups="",resources=secrets,verbs=get

// CredentialsFromSecret reads static credentials from a Secret.
func CredentialsFromSecret(ctx context.Context, reader client.Reader, namespace, name string) (aws.CredentialsProvider, error) {
	secret := &corev1.Secret{}
	if err := reader.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, infraerrors.NewConfigurationError(namespace, "", fmt.Sprintf("base credentials secret %q not found", name))
		}
		return nil, infraerrors.NewTransientError("read base credentials secret", err)
	}

	accessKeyID := strings.TrimSpace(string(secret.Data[SecretKeyAccessKeyID]))
	secretAccessKey := strings.TrimSpace(string(secret.Data[SecretKeySecretAccessKey]))
	if accessKeyID == "" || secretAccessKey == "" {
		return nil, infraerrors.NewConfigurationError(namespace, "",
			fmt.Sprintf("secret %q must contain %s and %s", name, SecretKeyAccessKeyID, SecretKeySecretAccessKey))
	}
	sessionToken := strings.TrimSpace(string(secret.Data[SecretKeySessionToken]))

	return awscreds.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken), nil
}

// ResolveAccountID returns configured when set, otherwise asks STS who the
// base identity is. newClient is only called when discovery is needed.
func ResolveAccountID(ctx context.Context, configured string, newClient func() CallerIdentityAPI) (string, error) {
	if configured != "" {
		if err := tenant.ValidateAccountID(configured); err != nil {
			return "", err
		}
		return configured, nil
	}

	out, err := newClient().GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", infraerrors.NewTransientError("discover home account", err)
	}
	account := aws.ToString(out.Account)
	if err := tenant.ValidateAccountID(account); err != nil {
		return "", infraerrors.NewTransientError("discover home account", err)
	}
	return account, nil
}
