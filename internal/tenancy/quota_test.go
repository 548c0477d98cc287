package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var fixedTime = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func TestQuotaCheckQuotaAllowsWithinLimit(t *testing.T) {
	q := NewQuota("tenant-a", Standard, ResourceLimits{EventsPerDay: 100}, NoopAlertSink{})
	result := q.CheckQuota(context.Background(), ResourceEvents, 50)
	assert.True(t, result.Allowed)
	assert.False(t, result.GraceActive)
}

func TestQuotaCheckQuotaGraceOverage(t *testing.T) {
	q := NewQuota("tenant-a", Professional, ResourceLimits{EventsPerDay: 100}, NoopAlertSink{})
	result := q.CheckQuota(context.Background(), ResourceEvents, 110)
	require.True(t, result.Allowed)
	assert.True(t, result.GraceActive)
	assert.Greater(t, result.OverageCostEstimate, 0.0)
}

func TestQuotaCheckQuotaDeniedBeyondGrace(t *testing.T) {
	q := NewQuota("tenant-a", Starter, ResourceLimits{EventsPerDay: 100}, NoopAlertSink{})
	result := q.CheckQuota(context.Background(), ResourceEvents, 500)
	assert.False(t, result.Allowed)
}

func TestQuotaCheckQuotaUnboundedResourceAlwaysAllowed(t *testing.T) {
	q := NewQuota("tenant-a", Starter, ResourceLimits{}, NoopAlertSink{})
	result := q.CheckQuota(context.Background(), ResourceStorageMB, 1_000_000)
	assert.True(t, result.Allowed)
}

func TestQuotaTierGracePercentages(t *testing.T) {
	assert.Equal(t, 0.20, Enterprise.GracePercentage(ResourceEvents))
	assert.Equal(t, 0.20, Enterprise.GracePercentage(ResourceStorageMB))
	assert.Equal(t, 0.15, Professional.GracePercentage(ResourceEvents))
	assert.Equal(t, 0.10, Professional.GracePercentage(ResourceStorageMB))
	assert.Equal(t, 0.05, Standard.GracePercentage(ResourceEvents))
	assert.Equal(t, 0.0, Standard.GracePercentage(ResourceStorageMB))
	assert.Equal(t, 0.02, Starter.GracePercentage(ResourceEvents))
	assert.Equal(t, 0.02, Starter.GracePercentage(ResourceStorageMB))
}

func TestQuotaRecordUsageAccumulatesBilling(t *testing.T) {
	q := NewQuota("tenant-a", Professional, ResourceLimits{EventsPerDay: 10}, NoopAlertSink{})
	require.NoError(t, q.RecordUsage(context.Background(), ResourceEvents, 15))
	assert.Greater(t, q.Billing.MonthToDateCost(), 0.0)
}

func TestPerformanceScoreFormula(t *testing.T) {
	assert.Equal(t, 100, PerformanceScore(10, false))
	assert.Equal(t, 95, PerformanceScore(60, false))
	assert.Equal(t, 85, PerformanceScore(80, false))
	assert.Equal(t, 70, PerformanceScore(95, false))
	assert.Equal(t, 100, PerformanceScore(10, true))
	assert.Equal(t, 80, PerformanceScore(95, true))
}

// TestQuotaCheckQuotaNeverAllowsBeyondGraceLimit asserts that a quota
// check result's Allowed flag must never say yes once the requested
// amount would push usage past the tier's grace limit.
func TestQuotaCheckQuotaNeverAllowsBeyondGraceLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tier := QuotaTier(rapid.IntRange(0, 3).Draw(rt, "tier"))
		limit := rapid.Int64Range(1, 100000).Draw(rt, "limit")
		current := rapid.Float64Range(0, float64(limit)*2).Draw(rt, "current")
		amount := rapid.Float64Range(0, float64(limit)*2).Draw(rt, "amount")

		q := NewQuota("tenant-x", tier, ResourceLimits{EventsPerDay: limit}, NoopAlertSink{})
		if current > 0 {
			q.Usage.Record(ResourceEvents, current)
		}

		result := q.CheckQuota(context.Background(), ResourceEvents, amount)
		graceLimit := float64(limit) * (1 + tier.GracePercentage(ResourceEvents))
		projected := current + amount

		if projected > graceLimit {
			assert.False(rt, result.Allowed, "projected=%v graceLimit=%v", projected, graceLimit)
		}
	})
}

// TestAlertCooldownNeverDoubleFiresWithinWindow asserts that the same
// (resource, alert type) pair raised repeatedly in immediate succession
// is always recorded in history but must not both cross the cooldown
// gate as "fresh".
func TestAlertCooldownNeverDoubleFiresWithinWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sink := &fakeAlertSink{}
		mgr := NewQuotaAlertManager(sink)
		n := rapid.IntRange(2, 10).Draw(rt, "n")
		for i := 0; i < n; i++ {
			mgr.Raise(context.Background(), "tenant-x", QuotaAlert{Resource: ResourceEvents, Type: AlertCritical, Utilization: 92})
		}
		history := mgr.History()
		assert.Len(rt, history, n, "every raise is recorded in history regardless of cooldown")
		assert.Len(rt, sink.sent, 1, "only the first raise within the cooldown window reaches the sink")
	})
}

// fakeAlertSink records every alert handed to Send, letting a test
// distinguish "forwarded past the cooldown gate" from "only recorded in
// history".
type fakeAlertSink struct {
	sent []QuotaAlert
}

func (s *fakeAlertSink) Send(_ context.Context, _ string, alert QuotaAlert) error {
	s.sent = append(s.sent, alert)
	return nil
}

func TestAlertCooldownSuppressesSinkForwardingNotJustHistory(t *testing.T) {
	sink := &fakeAlertSink{}
	mgr := NewQuotaAlertManager(sink)

	alert := QuotaAlert{Resource: ResourceEvents, Type: AlertCritical, Utilization: 92, TriggeredAt: fixedTime}
	for i := 0; i < 5; i++ {
		mgr.Raise(context.Background(), "tenant-x", alert)
	}

	assert.Len(t, mgr.History(), 5, "every raise still lands in history")
	assert.Len(t, sink.sent, 1, "only the first raise within the cooldown window reaches the sink")
}

func TestAlertCooldownForwardsAgainOnceWindowElapses(t *testing.T) {
	sink := &fakeAlertSink{}
	mgr := NewQuotaAlertManager(sink)

	first := QuotaAlert{Resource: ResourceEvents, Type: AlertCritical, Utilization: 92, TriggeredAt: fixedTime}
	mgr.Raise(context.Background(), "tenant-x", first)

	later := first
	later.TriggeredAt = fixedTime.Add(16 * time.Minute)
	mgr.Raise(context.Background(), "tenant-x", later)

	assert.Len(t, sink.sent, 2, "a raise outside the 15-minute cooldown window reaches the sink again")
}

func TestAlertWarningAndExceededNeverReachSink(t *testing.T) {
	sink := &fakeAlertSink{}
	mgr := NewQuotaAlertManager(sink)

	mgr.Raise(context.Background(), "tenant-x", QuotaAlert{Resource: ResourceEvents, Type: AlertWarning, Utilization: 82, TriggeredAt: fixedTime})
	mgr.Raise(context.Background(), "tenant-x", QuotaAlert{Resource: ResourceStorageMB, Type: AlertExceeded, Utilization: 105, TriggeredAt: fixedTime})

	assert.Len(t, mgr.History(), 2)
	assert.Empty(t, sink.sent, "Warning and Exceeded are recorded but never paged")
}
