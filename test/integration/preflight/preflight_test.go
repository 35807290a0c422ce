//go:build integration

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
Tests use the naming convention: INT-PF{NN}_{Description}
*/

package preflight

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	tenantcontroller "github.com/acornett21/ack-multi-tenancy/features/tenant/controller"
	"github.com/acornett21/ack-multi-tenancy/test/integration"
)

const (
	mappedAccount   = "222222222222"
	unmappedAccount = "555555555555"
)

var _ = Describe("Preflight Integration Tests", Ordered, func() {
	var (
		ctx     context.Context
		testEnv *integration.TestEnvironment
	)

	eventReasons := func(namespace string) func() []string {
		return func() []string {
			list := &corev1.EventList{}
			if err := testEnv.K8sClient.List(ctx, list, client.InNamespace(namespace)); err != nil {
				return nil
			}
			var reasons []string
			for _, e := range list.Items {
				reasons = append(reasons, e.Reason)
			}
			return reasons
		}
	}

	BeforeAll(func() {
		ctx = integration.GetContext()
		testEnv = integration.GetTestEnv()
		Expect(testEnv).NotTo(BeNil(), "Test environment not initialized")

		integration.Step("Publishing the role account map")
		Expect(integration.ApplyMapping(ctx, testEnv.K8sClient, map[string]string{
			mappedAccount: "role/ack-tenant",
		})).To(Succeed())
		Eventually(func() int {
			return testEnv.Store.Snapshot().Len()
		}, 30*time.Second, 250*time.Millisecond).Should(Equal(1))
	})

	Context("INT-PF: Tenant identity preflight", func() {
		It("INT-PF01: verifies a mapped tenant namespace", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-pf01", mappedAccount)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			Eventually(eventReasons(ns.Name), 30*time.Second, 500*time.Millisecond).
				Should(ContainElement(tenantcontroller.EventReasonIdentityVerified))
			Expect(testEnv.STS.Calls("arn:aws:iam::222222222222:role/ack-tenant")).To(BeNumerically(">=", 1))
		})

		It("INT-PF02: flags an annotated account without a role mapping", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-pf02", unmappedAccount)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			Eventually(eventReasons(ns.Name), 30*time.Second, 500*time.Millisecond).
				Should(ContainElement(tenantcontroller.EventReasonAccountMismatch))
		})

		It("INT-PF03: leaves unannotated namespaces alone", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-pf03", "")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			Consistently(eventReasons(ns.Name), 3*time.Second, 500*time.Millisecond).Should(BeEmpty())
		})
	})
})
