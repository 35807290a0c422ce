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
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive,staticcheck
)

var (
	stepMu    sync.Mutex
	stepStart time.Time
)

// Step wraps By with the time spent since the previous step, which makes
// slow cache syncs and STS round trips visible in the suite output.
func Step(description string) {
	stepMu.Lock()
	suffix := ""
	if !stepStart.IsZero() {
		suffix = fmt.Sprintf(" [+%v]", time.Since(stepStart).Round(time.Millisecond))
	}
	stepStart = time.Now()
	stepMu.Unlock()

	By(description + suffix)
}

// LogSTSCalls writes the fake STS call count for each role to the Ginkgo
// writer.
func (f *FakeSTS) LogSTSCalls(roleARNs ...string) {
	for _, arn := range roleARNs {
		fmt.Fprintf(GinkgoWriter, "  sts:AssumeRole %s: %d\n", arn, f.Calls(arn))
	}
}
