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

package events

// Tenant event type constants.
const (
	MappingUpdatedType = "mapping.updated"
	TrustDeniedType    = "tenant.trust_denied"
)

// MappingUpdated is published after a new tenant mapping table is installed.
// Subscribers use the account lists to drop state minted under the old table.
type MappingUpdated struct {
	BaseEvent
	// Generation is the generation of the installed table
	Generation uint64
	// Fingerprint is the content hash of the installed table
	Fingerprint string
	// Entries is the number of mapped accounts
	Entries int
	// Added, Removed and Changed list accounts by how their mapping moved
	Added   []string
	Removed []string
	Changed []string
}

// Type returns the event type identifier.
func (e MappingUpdated) Type() string {
	return MappingUpdatedType
}

// Affected returns every account whose mapping was removed or changed.
func (e MappingUpdated) Affected() []string {
	affected := make([]string, 0, len(e.Removed)+len(e.Changed))
	affected = append(affected, e.Removed...)
	return append(affected, e.Changed...)
}

// NewMappingUpdated creates a MappingUpdated event.
func NewMappingUpdated(generation uint64, fingerprint string, entries int, added, removed, changed []string) MappingUpdated {
	return MappingUpdated{
		BaseEvent:   NewBaseEvent(MappingUpdatedType),
		Generation:  generation,
		Fingerprint: fingerprint,
		Entries:     entries,
		Added:       added,
		Removed:     removed,
		Changed:     changed,
	}
}

// TrustDenied is published when a tenant role could not be assumed because
// the trust exchange rejected it.
type TrustDenied struct {
	BaseEvent
	// Account is the tenant account
	Account string
	// RoleARN is the role that was refused
	RoleARN string
	// Resource is the object whose reconciliation hit the denial
	Resource ResourceInfo
	// Reason is the error message returned by the trust exchange
	Reason string
}

// Type returns the event type identifier.
func (e TrustDenied) Type() string {
	return TrustDeniedType
}

// NewTrustDenied creates a TrustDenied event.
func NewTrustDenied(account, roleARN string, resource ResourceInfo, reason string) TrustDenied {
	return TrustDenied{
		BaseEvent: NewBaseEvent(TrustDeniedType),
		Account:   account,
		RoleARN:   roleARN,
		Resource:  resource,
		Reason:    reason,
	}
}
