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
	"strings"

	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/controller/hash"
)

const (
	// MaxSessionNameLength is the STS limit on RoleSessionName.
	MaxSessionNameLength = 64

	sessionNamePrefix = "ack"
	sessionHashLength = 8
)

// SessionName derives the RoleSessionName for key. The name shows up in
// CloudTrail of the tenant account, so it names the namespace when it fits.
func SessionName(key tenant.TenantKey) string {
	parts := []string{sessionNamePrefix, key.Account}
	if key.Namespace != "" {
		parts = append(parts, key.Namespace)
	}
	name := sanitizeSessionName(strings.Join(parts, "-"))
	if len(name) <= MaxSessionNameLength {
		return name
	}

	suffix := "-" + hash.Short(key.String(), sessionHashLength)
	return name[:MaxSessionNameLength-len(suffix)] + suffix
}

func sanitizeSessionName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("+=,.@_-", r):
			return r
		}
		return '-'
	}, name)
}
