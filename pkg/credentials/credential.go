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
Package credentials issues short-lived AWS credentials per tenant.

It contains the role assumption client (Assumer), the explicit retry policy
it runs under, and the single-flight credential cache that sits in front of it.
Credentials only ever live in process memory and are redacted when formatted
or logged.
*/
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Credential sources.
const (
	SourceAssumeRole   = "AssumeRole"
	SourceBaseIdentity = "BaseIdentity"
)

// Credential is a set of AWS credentials owned by one cache entry.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
	CanExpire       bool
	Source          string
}

// Expired reports whether the credential is no longer valid at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.CanExpire && !now.Before(c.Expires)
}

// ExpiresWithin reports whether the credential expires within margin of now.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return c.CanExpire && !now.Before(c.Expires.Add(-margin))
}

// Retrieve implements aws.CredentialsProvider so a Credential can be injected
// directly into an aws.Config.
func (c *Credential) Retrieve(_ context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          c.Source,
		CanExpire:       c.CanExpire,
		Expires:         c.Expires,
	}, nil
}

// String never includes secret material.
func (c *Credential) String() string {
	if c == nil {
		return "Credential<nil>"
	}
	if !c.CanExpire {
		return fmt.Sprintf("Credential{AccessKeyID: %s, Source: %s}", redactKeyID(c.AccessKeyID), c.Source)
	}
	return fmt.Sprintf("Credential{AccessKeyID: %s, Source: %s, Expires: %s}",
		redactKeyID(c.AccessKeyID), c.Source, c.Expires.UTC().Format(time.RFC3339))
}

// GoString keeps %#v from dumping the struct fields.
func (c *Credential) GoString() string {
	return c.String()
}

// MarshalLog implements logr.Marshaler.
func (c *Credential) MarshalLog() interface{} {
	if c == nil {
		return nil
	}
	return struct {
		AccessKeyID string `json:"accessKeyID"`
		Source      string `json:"source"`
		Expires     string `json:"expires,omitempty"`
	}{
		AccessKeyID: redactKeyID(c.AccessKeyID),
		Source:      c.Source,
		Expires:     expiresString(c),
	}
}

func expiresString(c *Credential) string {
	if !c.CanExpire {
		return ""
	}
	return c.Expires.UTC().Format(time.RFC3339)
}

func redactKeyID(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}

// FromAWS converts SDK credentials into a Credential.
func FromAWS(creds aws.Credentials, source string) *Credential {
	return &Credential{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expires:         creds.Expires,
		CanExpire:       creds.CanExpire,
		Source:          source,
	}
}
