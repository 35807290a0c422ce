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

package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

const systemNamespace = "ack-system"

func newFakeReader(objs ...client.Object) client.Reader {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	return fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
}

func credentialsSecret(data map[string]string) *corev1.Secret {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "ack-base-credentials", Namespace: systemNamespace},
		Data:       map[string][]byte{},
	}
	for k, v := range data {
		secret.Data[k] = []byte(v)
	}
	return secret
}

type fakeCallerIdentity struct {
	account string
	err     error
	calls   int
}

func (f *fakeCallerIdentity) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

func TestCredentialsFromSecret(t *testing.T) {
	tests := []struct {
		name      string
		secret    *corev1.Secret
		wantToken string
		wantErr   func(error) bool
	}{
		{
			name: "static keys",
			secret: credentialsSecret(map[string]string{
				SecretKeyAccessKeyID:     "AKIABASE",
				SecretKeySecretAccessKey: "base-secret\n",
			}),
		},
		{
			name: "with session token",
			secret: credentialsSecret(map[string]string{
				SecretKeyAccessKeyID:     "ASIABASE",
				SecretKeySecretAccessKey: "base-secret",
				SecretKeySessionToken:    "token",
			}),
			wantToken: "token",
		},
		{
			name:    "missing secret key",
			secret:  credentialsSecret(map[string]string{SecretKeyAccessKeyID: "AKIABASE"}),
			wantErr: infraerrors.IsConfigurationError,
		},
		{
			name:    "secret not found",
			wantErr: infraerrors.IsConfigurationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var objs []client.Object
			if tt.secret != nil {
				objs = append(objs, tt.secret)
			}
			provider, err := CredentialsFromSecret(context.Background(), newFakeReader(objs...), systemNamespace, "ack-base-credentials")

			if tt.wantErr != nil {
				if !tt.wantErr(err) {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CredentialsFromSecret() error = %v", err)
			}

			creds, err := provider.Retrieve(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if creds.SecretAccessKey != "base-secret" {
				t.Error("values should be trimmed")
			}
			if creds.SessionToken != tt.wantToken {
				t.Errorf("SessionToken = %q, want %q", creds.SessionToken, tt.wantToken)
			}
		})
	}
}

func TestResolveAccountID(t *testing.T) {
	t.Run("configured account skips discovery", func(t *testing.T) {
		api := &fakeCallerIdentity{account: "999999999999"}
		account, err := ResolveAccountID(context.Background(), "111111111111", func() CallerIdentityAPI { return api })
		if err != nil || account != "111111111111" {
			t.Fatalf("ResolveAccountID() = %q, %v", account, err)
		}
		if api.calls != 0 {
			t.Error("configured account should not call STS")
		}
	})

	t.Run("invalid configured account", func(t *testing.T) {
		_, err := ResolveAccountID(context.Background(), "abc", nil)
		if !infraerrors.IsValidationError(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("discovered account", func(t *testing.T) {
		api := &fakeCallerIdentity{account: "111111111111"}
		account, err := ResolveAccountID(context.Background(), "", func() CallerIdentityAPI { return api })
		if err != nil || account != "111111111111" {
			t.Fatalf("ResolveAccountID() = %q, %v", account, err)
		}
	})

	t.Run("discovery failure is transient", func(t *testing.T) {
		api := &fakeCallerIdentity{err: errors.New("no credentials")}
		_, err := ResolveAccountID(context.Background(), "", func() CallerIdentityAPI { return api })
		if !infraerrors.IsTransientError(err) {
			t.Fatalf("expected TransientError, got %v", err)
		}
	})
}

func isolateAWSEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_WEB_IDENTITY_TOKEN_FILE", "")
	t.Setenv("AWS_PROFILE", "")
}

func TestLoad_StaticSecret(t *testing.T) {
	isolateAWSEnv(t)

	reader := newFakeReader(credentialsSecret(map[string]string{
		SecretKeyAccessKeyID:     "AKIABASE",
		SecretKeySecretAccessKey: "base-secret",
	}))
	base, err := Load(context.Background(), reader, Options{
		Region:          "us-west-2",
		EndpointURL:     "http://localhost:4566",
		SecretNamespace: systemNamespace,
		SecretName:      "ack-base-credentials",
		AccountID:       "111111111111",
	}, logr.Discard())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if base.AccountID != "111111111111" || base.Config.Region != "us-west-2" {
		t.Errorf("unexpected base identity %+v", base)
	}
	creds, err := base.Credentials().Retrieve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessKeyID != "AKIABASE" {
		t.Errorf("AccessKeyID = %q", creds.AccessKeyID)
	}
	if base.STSClient() == nil {
		t.Error("expected an STS client")
	}
}

func TestLoad_WebIdentityRequiresRoleARN(t *testing.T) {
	isolateAWSEnv(t)
	t.Setenv("AWS_WEB_IDENTITY_TOKEN_FILE", filepath.Join(t.TempDir(), "token"))
	t.Setenv("AWS_ROLE_ARN", "")

	_, err := Load(context.Background(), newFakeReader(), Options{Region: "us-west-2", AccountID: "111111111111"}, logr.Discard())
	if !infraerrors.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
