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

package tenant

import (
	"sort"
	"sync/atomic"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/acornett21/ack-multi-tenancy/shared/controller/hash"
)

// SourceKind describes where a mapping record came from.
type SourceKind string

const (
	// SourceGlobalConfig is a role-account-map ConfigMap.
	SourceGlobalConfig SourceKind = "global-config"
)

// Source records the origin of a mapping record for auditing.
type Source struct {
	Kind   SourceKind
	Object string // namespace/name of the configuration object
}

// MappingRecord binds an account to the role assumed on its behalf.
type MappingRecord struct {
	Key    TenantKey
	Role   RoleReference
	Source Source
}

// Lookup is the result of resolving a TenantKey against a snapshot.
// Found is false for the default identity; Role is then DefaultRole.
type Lookup struct {
	Record     MappingRecord
	Found      bool
	Generation uint64
}

// Role returns the role to assume, or DefaultRole when nothing was found.
func (l Lookup) Role() RoleReference {
	if !l.Found {
		return DefaultRole
	}
	return l.Record.Role
}

// Snapshot is an immutable view of the full mapping table.
type Snapshot struct {
	records     map[string]MappingRecord
	skipped     int
	fingerprint string
	generation  uint64
}

// Generation is the store version this snapshot was installed as.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Len returns the number of usable mapping records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Skipped returns the number of entries dropped as malformed or ambiguous.
func (s *Snapshot) Skipped() int {
	return s.skipped
}

// Fingerprint is a content hash of the table, empty for an empty table.
func (s *Snapshot) Fingerprint() string {
	return s.fingerprint
}

// Record returns the mapping for account.
func (s *Snapshot) Record(account string) (MappingRecord, bool) {
	rec, ok := s.records[account]
	return rec, ok
}

// Accounts returns the mapped accounts in sorted order.
func (s *Snapshot) Accounts() []string {
	accounts := make([]string, 0, len(s.records))
	for account := range s.records {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

// Diff lists accounts added, removed and remapped going from prev to s.
func (s *Snapshot) Diff(prev *Snapshot) (added, removed, changed []string) {
	for _, account := range s.Accounts() {
		old, ok := prev.records[account]
		switch {
		case !ok:
			added = append(added, account)
		case old.Role != s.records[account].Role:
			changed = append(changed, account)
		}
	}
	for _, account := range prev.Accounts() {
		if _, ok := s.records[account]; !ok {
			removed = append(removed, account)
		}
	}
	return added, removed, changed
}

// BuildSnapshot merges the data of every mapping ConfigMap into a snapshot.
// Keys are account IDs and values role references. Malformed entries are
// logged and skipped. An account mapped to different roles by different
// sources is dropped entirely so lookups stay deterministic.
func BuildSnapshot(log logr.Logger, configMaps []corev1.ConfigMap) *Snapshot {
	sorted := make([]corev1.ConfigMap, len(configMaps))
	copy(sorted, configMaps)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Namespace != sorted[j].Namespace {
			return sorted[i].Namespace < sorted[j].Namespace
		}
		return sorted[i].Name < sorted[j].Name
	})

	records := make(map[string]MappingRecord)
	ambiguous := make(map[string]bool)
	skipped := 0

	for _, cm := range sorted {
		object := cm.Namespace + "/" + cm.Name
		accounts := make([]string, 0, len(cm.Data))
		for account := range cm.Data {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)

		for _, account := range accounts {
			value := cm.Data[account]
			if err := ValidateAccountID(account); err != nil {
				log.Info("skipping malformed mapping entry", "source", object, "key", account, "reason", err.Error())
				skipped++
				continue
			}
			role, err := ParseRoleReference(account, value)
			if err != nil {
				log.Info("skipping malformed mapping entry", "source", object, "account", account, "reason", err.Error())
				skipped++
				continue
			}
			if existing, ok := records[account]; ok {
				if existing.Role != role {
					log.Info("account mapped to different roles, ignoring it",
						"account", account, "source", object, "otherSource", existing.Source.Object)
					ambiguous[account] = true
				}
				continue
			}
			records[account] = MappingRecord{
				Key:    TenantKey{Account: account},
				Role:   role,
				Source: Source{Kind: SourceGlobalConfig, Object: object},
			}
		}
	}

	for account := range ambiguous {
		delete(records, account)
		skipped++
	}

	return newSnapshot(records, skipped)
}

func newSnapshot(records map[string]MappingRecord, skipped int) *Snapshot {
	table := make(map[string]interface{}, len(records))
	for account, rec := range records {
		table[account] = rec.Role.raw
	}
	fingerprint := ""
	if len(table) > 0 {
		fingerprint = hash.FromMapDeterministic(table)
	}
	return &Snapshot{
		records:     records,
		skipped:     skipped,
		fingerprint: fingerprint,
	}
}

// Store is the read-through tenant mapping store.
// Readers load the current snapshot pointer and never take a lock.
type Store struct {
	current     atomic.Pointer[Snapshot]
	homeAccount string
}

// NewStore creates a store holding an empty table.
// Keys for homeAccount always resolve to the default identity.
func NewStore(homeAccount string) *Store {
	s := &Store{homeAccount: homeAccount}
	s.current.Store(newSnapshot(map[string]MappingRecord{}, 0))
	return s
}

// HomeAccount returns the controller's own account.
func (s *Store) HomeAccount() string {
	return s.homeAccount
}

// Snapshot returns the current table. Hold it for the duration of one resolution.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Replace installs next and returns the snapshot it replaced.
// next must be freshly built and not shared with another store.
func (s *Store) Replace(next *Snapshot) *Snapshot {
	for {
		prev := s.current.Load()
		next.generation = prev.generation + 1
		if s.current.CompareAndSwap(prev, next) {
			return prev
		}
	}
}

// ResolveRole answers which role to assume for key.
func (s *Store) ResolveRole(key TenantKey) Lookup {
	snap := s.current.Load()
	if key.Account == "" || key.Account == s.homeAccount {
		return Lookup{Generation: snap.generation}
	}
	rec, ok := snap.records[key.Account]
	if !ok {
		return Lookup{Generation: snap.generation}
	}
	rec.Key = key
	return Lookup{Record: rec, Found: true, Generation: snap.generation}
}
