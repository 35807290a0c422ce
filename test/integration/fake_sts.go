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

package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"

	"github.com/acornett21/ack-multi-tenancy/pkg/identity"
)

// HomeAccessKeyID is the static base credential used by the test manager.
const HomeAccessKeyID = "AKIAHOME"

// FakeSTS stands in for the STS endpoint. Issued access keys encode the
// account of the assumed role, so GetCallerIdentity can answer for any
// credential the broker hands out.
type FakeSTS struct {
	HomeAccount string

	mu     sync.Mutex
	calls  map[string]int
	denied map[string]bool
	serial int
}

// NewFakeSTS creates a FakeSTS for homeAccount.
func NewFakeSTS(homeAccount string) *FakeSTS {
	return &FakeSTS{
		HomeAccount: homeAccount,
		calls:       make(map[string]int),
		denied:      make(map[string]bool),
	}
}

// Deny makes every AssumeRole call for roleARN fail with AccessDenied.
func (f *FakeSTS) Deny(roleARN string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[roleARN] = true
}

// Calls returns how many times roleARN was assumed.
func (f *FakeSTS) Calls(roleARN string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[roleARN]
}

// AssumeRole implements credentials.AssumeRoleAPI.
func (f *FakeSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	arn := aws.ToString(in.RoleArn)
	f.calls[arn]++
	if f.denied[arn] {
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform sts:AssumeRole"}
	}

	// arn:aws:iam::<account>:role/<name>
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "invalid role ARN " + arn}
	}
	f.serial++
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String(fmt.Sprintf("ASIA%s-%d", parts[4], f.serial)),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

// CallerIdentityFactory returns a client factory whose GetCallerIdentity
// reports the account behind the config's credentials.
func (f *FakeSTS) CallerIdentityFactory() func(aws.Config) identity.CallerIdentityAPI {
	return func(cfg aws.Config) identity.CallerIdentityAPI {
		return callerIdentity{sts: f, cfg: cfg}
	}
}

type callerIdentity struct {
	sts *FakeSTS
	cfg aws.Config
}

func (c callerIdentity) GetCallerIdentity(ctx context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	creds, err := c.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, err
	}

	account := c.sts.HomeAccount
	if key, ok := strings.CutPrefix(creds.AccessKeyID, "ASIA"); ok {
		account, _, _ = strings.Cut(key, "-")
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(account),
		Arn:     aws.String("arn:aws:sts::" + account + ":assumed-role/test"),
	}, nil
}
