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
Tests use the naming convention: INT-BR{NN}_{Description}
*/

package broker

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acornett21/ack-multi-tenancy/pkg/broker"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
	"github.com/acornett21/ack-multi-tenancy/test/integration"
)

const (
	marketingAccount = "222222222222"
	financeAccount   = "333333333333"
	deniedAccount    = "444444444444"

	marketingRole  = "arn:aws:iam::222222222222:role/ack-marketing-s3"
	marketingRole2 = "arn:aws:iam::222222222222:role/ack-marketing-admin"
	financeRole    = "arn:aws:iam::333333333333:role/ack-finance"
	deniedRole     = "arn:aws:iam::444444444444:role/ack-denied"
)

var _ = Describe("Broker Integration Tests", Ordered, func() {
	var (
		ctx     context.Context
		testEnv *integration.TestEnvironment
	)

	resolve := func(ns *corev1.Namespace) (*broker.Session, error) {
		return testEnv.Broker.ResolveCredentials(ctx, ns.Name, nil)
	}

	BeforeAll(func() {
		ctx = integration.GetContext()
		testEnv = integration.GetTestEnv()
		Expect(testEnv).NotTo(BeNil(), "Test environment not initialized")

		integration.Step("Publishing the role account map")
		Expect(integration.ApplyMapping(ctx, testEnv.K8sClient, map[string]string{
			marketingAccount: "role/ack-marketing-s3",
			financeAccount:   financeRole,
			deniedAccount:    "role/ack-denied",
		})).To(Succeed())
		testEnv.STS.Deny(deniedRole)

		Eventually(func() int {
			return testEnv.Store.Snapshot().Len()
		}, 30*time.Second, 250*time.Millisecond).Should(Equal(3))
		Expect(testEnv.Mapping.ReadyCheck(nil)).To(Succeed())
	})

	Context("INT-BR: Tenant credential resolution", func() {
		It("INT-BR01: serves unannotated namespaces with the base identity", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-br01", "")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			var session *broker.Session
			Eventually(func() error {
				session, err = resolve(ns)
				return err
			}, 10*time.Second, 250*time.Millisecond).Should(Succeed())

			Expect(session.IsDefault()).To(BeTrue())
			Expect(session.Key.Account).To(Equal(integration.HomeAccount))
			creds, err := session.Config().Credentials.Retrieve(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(creds.AccessKeyID).To(Equal(integration.HomeAccessKeyID))
		})

		It("INT-BR02: assumes the mapped role once per tenant and serves it from cache", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-br02", marketingAccount)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			before := testEnv.STS.Calls(marketingRole)
			var session *broker.Session
			Eventually(func() error {
				session, err = resolve(ns)
				return err
			}, 10*time.Second, 250*time.Millisecond).Should(Succeed())

			Expect(session.RoleARN).To(Equal(marketingRole))
			Expect(session.Key).To(Equal(tenant.TenantKey{Account: marketingAccount, Namespace: ns.Name}))

			integration.Step("Resolving the same tenant again")
			for i := 0; i < 5; i++ {
				again, err := resolve(ns)
				Expect(err).NotTo(HaveOccurred())
				Expect(again.Credential.AccessKeyID).To(Equal(session.Credential.AccessKeyID))
			}
			testEnv.STS.LogSTSCalls(marketingRole)
			Expect(testEnv.STS.Calls(marketingRole) - before).To(Equal(1))
		})

		It("INT-BR03: honors the default region annotation", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-br03", financeAccount)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			ns.Annotations[tenant.AnnotationDefaultRegion] = "eu-central-1"
			Expect(testEnv.K8sClient.Update(ctx, ns)).To(Succeed())

			Eventually(func() string {
				session, err := resolve(ns)
				if err != nil {
					return ""
				}
				return session.Config().Region
			}, 10*time.Second, 250*time.Millisecond).Should(Equal("eu-central-1"))
		})

		It("INT-BR04: reports trust denials as permanent and records a namespace event", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-br04", deniedAccount)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			Eventually(func() bool {
				_, err := resolve(ns)
				return infraerrors.IsTrustDeniedError(err)
			}, 10*time.Second, 250*time.Millisecond).Should(BeTrue())

			integration.Step("Holding the denial down instead of calling STS again")
			calls := testEnv.STS.Calls(deniedRole)
			for i := 0; i < 5; i++ {
				_, err := resolve(ns)
				Expect(infraerrors.IsPermanent(err)).To(BeTrue())
			}
			Expect(testEnv.STS.Calls(deniedRole)).To(Equal(calls))

			integration.Step("Finding the Warning event on the namespace")
			Eventually(func() []string {
				list := &corev1.EventList{}
				if err := testEnv.K8sClient.List(ctx, list, client.InNamespace(ns.Name)); err != nil {
					return nil
				}
				var reasons []string
				for _, e := range list.Items {
					reasons = append(reasons, e.Reason)
				}
				return reasons
			}, 20*time.Second, 500*time.Millisecond).Should(ContainElement("TenantTrustDenied"))
		})

		It("INT-BR05: switches to the new role after a mapping change", func() {
			ns, err := integration.CreateTenantNamespace(ctx, testEnv.K8sClient, "int-br05", marketingAccount)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = testEnv.K8sClient.Delete(ctx, ns) })

			var first *broker.Session
			Eventually(func() error {
				first, err = resolve(ns)
				return err
			}, 10*time.Second, 250*time.Millisecond).Should(Succeed())
			Expect(first.RoleARN).To(Equal(marketingRole))

			integration.Step("Pointing the marketing account at another role")
			Expect(integration.ApplyMapping(ctx, testEnv.K8sClient, map[string]string{
				marketingAccount: marketingRole2,
				financeAccount:   financeRole,
				deniedAccount:    "role/ack-denied",
			})).To(Succeed())

			Eventually(func() string {
				session, err := resolve(ns)
				if err != nil {
					return ""
				}
				return session.RoleARN
			}, 30*time.Second, 250*time.Millisecond).Should(Equal(marketingRole2))

			session, err := resolve(ns)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Generation).To(BeNumerically(">", first.Generation))
			Expect(session.Credential.AccessKeyID).NotTo(Equal(first.Credential.AccessKeyID))
		})

		It("INT-BR06: rejects a missing namespace as a configuration error", func() {
			_, err := testEnv.Broker.ResolveCredentials(ctx, integration.UniqueName("int-br06-missing"), nil)
			Expect(infraerrors.IsConfigurationError(err)).To(BeTrue(), "got %v", err)
		})
	})
})
