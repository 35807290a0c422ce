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
	"reflect"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const homeAccount = "111111111111"

func mappingConfigMap(name string, data map[string]string) corev1.ConfigMap {
	return corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ack-system"},
		Data:       data,
	}
}

func TestBuildSnapshot(t *testing.T) {
	snap := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
		mappingConfigMap("ack-role-account-map", map[string]string{
			"222222222222": "role/ack-marketing-s3",
			"333333333333": "arn:aws:iam::333333333333:role/ack-finance",
			"not-an-id":    "role/x",
			"444444444444": "arn:aws:iam::555555555555:role/wrong-account",
			"666666666666": "",
		}),
	})

	if snap.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", snap.Len())
	}
	if snap.Skipped() != 3 {
		t.Errorf("Skipped() = %d, want 3", snap.Skipped())
	}
	if want := []string{"222222222222", "333333333333"}; !reflect.DeepEqual(snap.Accounts(), want) {
		t.Errorf("Accounts() = %v, want %v", snap.Accounts(), want)
	}

	rec, ok := snap.Record("222222222222")
	if !ok {
		t.Fatal("expected record for 222222222222")
	}
	if rec.Source.Kind != SourceGlobalConfig || rec.Source.Object != "ack-system/ack-role-account-map" {
		t.Errorf("unexpected source %+v", rec.Source)
	}
	if rec.Role.String() != "role/ack-marketing-s3" {
		t.Errorf("Role = %q", rec.Role.String())
	}
}

func TestBuildSnapshot_MultipleSources(t *testing.T) {
	t.Run("agreeing sources keep the first", func(t *testing.T) {
		snap := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
			mappingConfigMap("b-map", map[string]string{"222222222222": "role/ack"}),
			mappingConfigMap("a-map", map[string]string{"222222222222": "role/ack"}),
		})
		rec, ok := snap.Record("222222222222")
		if !ok {
			t.Fatal("expected record")
		}
		if rec.Source.Object != "ack-system/a-map" {
			t.Errorf("expected sorted first source, got %q", rec.Source.Object)
		}
		if snap.Skipped() != 0 {
			t.Errorf("Skipped() = %d, want 0", snap.Skipped())
		}
	})

	t.Run("conflicting sources drop the account", func(t *testing.T) {
		snap := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
			mappingConfigMap("a-map", map[string]string{
				"222222222222": "role/one",
				"333333333333": "role/ok",
			}),
			mappingConfigMap("b-map", map[string]string{"222222222222": "role/two"}),
		})
		if _, ok := snap.Record("222222222222"); ok {
			t.Error("ambiguous account should be dropped")
		}
		if _, ok := snap.Record("333333333333"); !ok {
			t.Error("unrelated account should survive")
		}
		if snap.Skipped() != 1 {
			t.Errorf("Skipped() = %d, want 1", snap.Skipped())
		}
	})

	t.Run("input order does not matter", func(t *testing.T) {
		a := mappingConfigMap("a-map", map[string]string{"222222222222": "role/ack"})
		b := mappingConfigMap("b-map", map[string]string{"333333333333": "role/ack"})
		s1 := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{a, b})
		s2 := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{b, a})
		if s1.Fingerprint() != s2.Fingerprint() {
			t.Error("fingerprints should match regardless of input order")
		}
	})
}

func TestSnapshot_Fingerprint(t *testing.T) {
	empty := BuildSnapshot(logr.Discard(), nil)
	if empty.Fingerprint() != "" {
		t.Error("empty snapshot should have empty fingerprint")
	}

	a := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
		mappingConfigMap("m", map[string]string{"222222222222": "role/a"}),
	})
	b := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
		mappingConfigMap("m", map[string]string{"222222222222": "role/b"}),
	})
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different tables should have different fingerprints")
	}
}

func TestSnapshot_Diff(t *testing.T) {
	prev := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
		mappingConfigMap("m", map[string]string{
			"222222222222": "role/a",
			"333333333333": "role/b",
		}),
	})
	next := BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
		mappingConfigMap("m", map[string]string{
			"222222222222": "role/changed",
			"444444444444": "role/new",
		}),
	})

	added, removed, changed := next.Diff(prev)
	if !reflect.DeepEqual(added, []string{"444444444444"}) {
		t.Errorf("added = %v", added)
	}
	if !reflect.DeepEqual(removed, []string{"333333333333"}) {
		t.Errorf("removed = %v", removed)
	}
	if !reflect.DeepEqual(changed, []string{"222222222222"}) {
		t.Errorf("changed = %v", changed)
	}
}

func TestStore_ResolveRole(t *testing.T) {
	store := NewStore(homeAccount)

	key := TenantKey{Account: "222222222222", Namespace: "marketing"}
	if l := store.ResolveRole(key); l.Found || !l.Role().IsDefault() {
		t.Fatalf("empty store should resolve to default, got %+v", l)
	}

	store.Replace(BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
		mappingConfigMap("m", map[string]string{
			"222222222222": "role/ack-marketing-s3",
			homeAccount:    "role/should-be-ignored",
		}),
	}))

	l := store.ResolveRole(key)
	if !l.Found {
		t.Fatal("expected mapping to be found")
	}
	if l.Role().String() != "role/ack-marketing-s3" {
		t.Errorf("Role() = %q", l.Role().String())
	}
	if l.Record.Key != key {
		t.Errorf("Record.Key = %+v, want %+v", l.Record.Key, key)
	}
	if l.Generation != 1 {
		t.Errorf("Generation = %d, want 1", l.Generation)
	}

	home := store.ResolveRole(TenantKey{Account: homeAccount, Namespace: "default"})
	if home.Found {
		t.Error("home account must always resolve to the default identity")
	}

	unknown := store.ResolveRole(TenantKey{Account: "999999999999", Namespace: "x"})
	if unknown.Found {
		t.Error("unmapped account should not be found")
	}
}

func TestStore_ReplaceGenerations(t *testing.T) {
	store := NewStore(homeAccount)
	if store.Snapshot().Generation() != 0 {
		t.Fatalf("initial generation = %d", store.Snapshot().Generation())
	}

	first := BuildSnapshot(logr.Discard(), nil)
	prev := store.Replace(first)
	if prev.Generation() != 0 || first.Generation() != 1 {
		t.Errorf("generations after first replace: prev=%d next=%d", prev.Generation(), first.Generation())
	}

	second := BuildSnapshot(logr.Discard(), nil)
	if store.Replace(second) != first {
		t.Error("Replace should return the previously installed snapshot")
	}
	if second.Generation() != 2 {
		t.Errorf("second generation = %d, want 2", second.Generation())
	}
}

func TestStore_ConcurrentReadsDuringSwap(t *testing.T) {
	store := NewStore(homeAccount)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			role := "role/a"
			if i%2 == 1 {
				role = "role/b"
			}
			store.Replace(BuildSnapshot(logr.Discard(), []corev1.ConfigMap{
				mappingConfigMap("m", map[string]string{"222222222222": role, "333333333333": role}),
			}))
		}
		close(stop)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Snapshot()
				a, okA := snap.Record("222222222222")
				b, okB := snap.Record("333333333333")
				if okA != okB || (okA && a.Role != b.Role) {
					t.Errorf("observed torn snapshot: %v vs %v", a.Role, b.Role)
					return
				}
			}
		}()
	}

	wg.Wait()
}
