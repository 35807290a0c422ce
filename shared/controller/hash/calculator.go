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


// Package hash provides content hashes used to fingerprint mapping tables and
// to keep generated STS session names unique after truncation.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// FromString calculates a SHA256 hash from a string.
func FromString(content string) string {
	if content == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// FromBytes calculates a SHA256 hash from bytes.
func FromBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// FromMapDeterministic calculates a deterministic SHA256 hash from a map.
// Keys are sorted before marshaling to ensure consistent ordering.
// Returns empty string if marshaling fails.
func FromMapDeterministic(data map[string]interface{}) string {
	if data == nil {
		return ""
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Key   string
		Value interface{}
	}, len(keys))
	for i, k := range keys {
		ordered[i].Key = k
		ordered[i].Value = data[k]
	}

	jsonBytes, err := json.Marshal(ordered)
	if err != nil {
		return ""
	}
	return FromBytes(jsonBytes)
}

// Short returns the first n hex characters of the SHA256 of content.
func Short(content string, n int) string {
	full := FromString(content)
	if n <= 0 || n >= len(full) {
		return full
	}
	return full[:n]
}
