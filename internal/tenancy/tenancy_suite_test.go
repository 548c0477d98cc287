package tenancy_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jules-labs/eventcore/internal/tenancy"
)

func TestTenancySuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tenancy Suite")
}

var _ = Describe("TenantManager", func() {
	var manager *tenancy.TenantManager

	BeforeEach(func() {
		manager = tenancy.NewTenantManager(tenancy.NoopAlertSink{})
	})

	It("rejects quota checks for an unregistered tenant", func() {
		_, err := manager.CheckTenantQuota(context.Background(), "ghost", tenancy.ResourceEvents, 1)
		Expect(err).To(HaveOccurred())
		var tenantErr *tenancy.TenantError
		Expect(err).To(BeAssignableToTypeOf(tenantErr))
	})

	It("allows operations for a registered, active tenant", func() {
		_, err := manager.CreateTenant("acme", "Acme Corp", tenancy.Strict, tenancy.Standard, tenancy.ResourceLimits{EventsPerDay: 1000})
		Expect(err).NotTo(HaveOccurred())

		err = manager.ValidateOperation("acme", tenancy.Operation{Kind: tenancy.OpCreateEvent, Target: "order-1"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects pre-scoped targets to stop callers from bypassing scoping", func() {
		_, err := manager.CreateTenant("acme", "Acme Corp", tenancy.Strict, tenancy.Standard, tenancy.ResourceLimits{})
		Expect(err).NotTo(HaveOccurred())

		err = manager.ValidateOperation("acme", tenancy.Operation{Kind: tenancy.OpCreateEvent, Target: "t_acme:order-1"})
		Expect(err).To(HaveOccurred())
	})

	It("fails isolation validation after a tenant is deleted", func() {
		_, err := manager.CreateTenant("acme", "Acme Corp", tenancy.Strict, tenancy.Standard, tenancy.ResourceLimits{})
		Expect(err).NotTo(HaveOccurred())
		Expect(manager.DeleteTenant("acme")).To(Succeed())

		err = manager.ValidateOperation("acme", tenancy.Operation{Kind: tenancy.OpReadEvents, Target: "order-1"})
		Expect(err).To(HaveOccurred())
	})

	It("surfaces tenants near their resource limits", func() {
		_, err := manager.CreateTenant("acme", "Acme Corp", tenancy.Strict, tenancy.Standard, tenancy.ResourceLimits{EventsPerDay: 10})
		Expect(err).NotTo(HaveOccurred())

		Expect(manager.RecordTenantUsage(context.Background(), "acme", tenancy.ResourceEvents, 9)).To(Succeed())
		Expect(manager.GetTenantsNearLimits()).To(ContainElement("acme"))
	})
})

var _ = Describe("scoped key helpers", func() {
	It("round-trips a scoped aggregate id", func() {
		scoped := tenancy.ScopeAggregateID("acme", "order-1")
		unscoped, ok := tenancy.UnscopeAggregateID("acme", scoped)
		Expect(ok).To(BeTrue())
		Expect(unscoped).To(Equal("order-1"))
	})

	It("refuses to unscope under the wrong tenant prefix", func() {
		scoped := tenancy.ScopeAggregateID("acme", "order-1")
		_, ok := tenancy.UnscopeAggregateID("other-tenant", scoped)
		Expect(ok).To(BeFalse())
	})

	It("validates tenant id charset and length", func() {
		Expect(tenancy.ValidTenantID("acme-1")).To(BeTrue())
		Expect(tenancy.ValidTenantID("")).To(BeFalse())
		Expect(tenancy.ValidTenantID("has a space")).To(BeFalse())
	})
})
