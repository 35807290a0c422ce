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

// Package tenant maps Kubernetes namespaces onto AWS accounts and the IAM roles
// the controller assumes to act in them.
package tenant

import (
	"fmt"
	"strings"

	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// Namespace annotations read by the resolver.
const (
	// AnnotationOwnerAccountID names the AWS account that owns resources in a namespace.
	AnnotationOwnerAccountID = "services.k8s.aws/owner-account-id"

	// AnnotationDefaultRegion overrides the controller region for a namespace.
	AnnotationDefaultRegion = "services.k8s.aws/default-region"
)

// AccountIDLength is the number of digits in an AWS account ID.
const AccountIDLength = 12

// TenantKey identifies a billing and isolation boundary.
// It is comparable and used directly as a map key.
type TenantKey struct {
	Account   string
	Namespace string
}

// String renders the key as "account/namespace".
func (k TenantKey) String() string {
	if k.Namespace == "" {
		return k.Account
	}
	return k.Account + "/" + k.Namespace
}

// ValidateAccountID checks that id is a 12 digit AWS account ID.
func ValidateAccountID(id string) error {
	if len(id) != AccountIDLength {
		return infraerrors.NewValidationError("accountID", id,
			fmt.Sprintf("must be %d digits, got %d characters", AccountIDLength, len(id)))
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return infraerrors.NewValidationError("accountID", id, "must contain only digits")
		}
	}
	return nil
}

// RoleReference is a provider-native IAM role identifier.
// The zero value is DefaultRole.
type RoleReference struct {
	raw string
}

// DefaultRole means "use the controller's base identity, assume nothing".
var DefaultRole = RoleReference{}

// ParseRoleReference validates a mapping value for account.
// Accepted forms are a full IAM role ARN owned by account, or "role/<path>".
func ParseRoleReference(account, value string) (RoleReference, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRole, infraerrors.NewValidationError("roleReference", value, "must not be empty")
	}

	if strings.HasPrefix(value, "role/") {
		if len(value) == len("role/") {
			return DefaultRole, infraerrors.NewValidationError("roleReference", value, "role name is empty")
		}
		return RoleReference{raw: value}, nil
	}

	// arn:partition:iam::account:role/name
	parts := strings.SplitN(value, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "iam" {
		return DefaultRole, infraerrors.NewValidationError("roleReference", value, "must be an IAM role ARN or role/<name>")
	}
	if parts[1] == "" {
		return DefaultRole, infraerrors.NewValidationError("roleReference", value, "ARN partition is empty")
	}
	if parts[4] != account {
		return DefaultRole, infraerrors.NewValidationError("roleReference", value,
			fmt.Sprintf("role belongs to account %q, mapping key is %q", parts[4], account))
	}
	if !strings.HasPrefix(parts[5], "role/") || len(parts[5]) == len("role/") {
		return DefaultRole, infraerrors.NewValidationError("roleReference", value, "ARN resource must be role/<name>")
	}
	return RoleReference{raw: value}, nil
}

// IsDefault reports whether r is the DefaultRole sentinel.
func (r RoleReference) IsDefault() bool {
	return r.raw == ""
}

// String returns the reference as configured.
func (r RoleReference) String() string {
	if r.IsDefault() {
		return "<default>"
	}
	return r.raw
}

// ARN expands the reference into a full role ARN.
func (r RoleReference) ARN(partition, account string) string {
	if r.IsDefault() || strings.HasPrefix(r.raw, "arn:") {
		return r.raw
	}
	if partition == "" {
		partition = "aws"
	}
	return fmt.Sprintf("arn:%s:iam::%s:%s", partition, account, r.raw)
}
