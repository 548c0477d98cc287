package tenancy

import (
	"context"
	"time"
)

// Quota is the per-tenant quota object: limit vector, current usage
// tracker, tier, alert manager, and billing tracker.
type Quota struct {
	TenantID string
	Tier     QuotaTier
	Limits   ResourceLimits
	Usage    *ResourceUsage
	Alerts   *QuotaAlertManager
	Billing  *BillingTracker
	Mirror   UsageMirror // optional; nil disables cross-process mirroring
}

// NewQuota builds a Quota with fresh usage/alert/billing trackers.
func NewQuota(tenantID string, tier QuotaTier, limits ResourceLimits, sink AlertSink) *Quota {
	return &Quota{
		TenantID: tenantID,
		Tier:     tier,
		Limits:   limits,
		Usage:    NewResourceUsage(),
		Alerts:   NewQuotaAlertManager(sink),
		Billing:  NewBillingTracker(),
	}
}

// CheckQuota evaluates whether amount more of resource may be consumed,
// applying the tier's grace percentage when the plain limit is exceeded.
// A limit of 0 means unbounded for that resource and always allows.
func (q *Quota) CheckQuota(ctx context.Context, resource ResourceType, amount float64) QuotaCheckResult {
	limit := q.Limits.limit(resource)
	current := q.Usage.Current(resource)
	projected := current + amount

	if limit == 0 {
		return QuotaCheckResult{Allowed: true, Current: current, Limit: limit}
	}

	utilization := projected / limit * 100
	result := QuotaCheckResult{Current: current, Limit: limit, UtilizationPercent: utilization}

	graceLimit := limit * (1 + q.Tier.GracePercentage(resource))

	switch {
	case projected <= limit:
		result.Allowed = true
	case projected <= graceLimit:
		result.Allowed = true
		result.GraceActive = true
		result.OverageCostEstimate = (projected - limit) * q.Tier.OverageUnitCost(resource)
	default:
		result.Allowed = false
	}

	if at, ok := ThresholdFor(utilization, result.GraceActive); ok {
		result.WarningTriggered = true
		q.Alerts.Raise(ctx, q.TenantID, QuotaAlert{
			Resource: resource, Type: at, Utilization: utilization,
			TriggeredAt: time.Now(),
			Message:     resourceAlertMessage(resource, utilization, result.GraceActive),
		})
	}

	return result
}

func resourceAlertMessage(resource ResourceType, utilization float64, graceActive bool) string {
	if graceActive {
		return resource.String() + " usage is in grace overage"
	}
	return resource.String() + " usage approaching limit"
}

// RecordUsage updates the usage tracker, the billing tracker, and (if
// configured) the Redis mirror. It does not itself call CheckQuota —
// callers are expected to check before recording, per the façade's
// "quota pre-check" control flow.
func (q *Quota) RecordUsage(ctx context.Context, resource ResourceType, amount float64) error {
	q.Usage.Record(resource, amount)

	limit := q.Limits.limit(resource)
	if limit > 0 {
		current := q.Usage.Current(resource)
		overageUnits := current - limit
		var overageCost float64
		if overageUnits > 0 {
			overageCost = overageUnits * q.Tier.OverageUnitCost(resource) * q.Tier.RateMultiplier()
		}
		q.Billing.RecordCost(BillingEntry{
			Date: time.Now(), Resource: resource, UnitsConsumed: amount,
			BaseCost: 0, OverageCost: overageCost, TierMultiplier: q.Tier.RateMultiplier(),
		})
	}

	if q.Mirror != nil {
		return q.Mirror.IncrBy(ctx, q.TenantID, resource, time.Now(), int64(amount))
	}
	return nil
}

// ResetDailyCounters archives the current daily bucket (implicitly, via
// the rolling window already tracking history) and zeroes the
// daily-reset counters.
func (q *Quota) ResetDailyCounters() {
	q.Usage.ResetDaily(time.Now())
}

// ResourceUsageSnapshot is one resource's entry in a GetUsage snapshot.
type ResourceUsageSnapshot struct {
	Resource           ResourceType
	Current            float64
	Limit              float64
	UtilizationPercent float64
	Pattern            UsagePattern
	Peak               float64
}

// UsageSnapshot is the full payload Quota.GetUsage returns.
type UsageSnapshot struct {
	TenantID         string
	Resources        []ResourceUsageSnapshot
	Alerts           []QuotaAlert
	MonthToDateCost  float64
	PerformanceScore int
}

var allResources = []ResourceType{ResourceEvents, ResourceStorageMB, ResourceStreams, ResourceProjections, ResourceAggregates, ResourceAPICalls}

// GetUsage snapshots utilization, pattern classification, alert summary,
// billing analytics, and the overall performance score.
func (q *Quota) GetUsage() UsageSnapshot {
	snap := UsageSnapshot{TenantID: q.TenantID, MonthToDateCost: q.Billing.MonthToDateCost(), Alerts: q.Alerts.History()}

	var utilSum float64
	var utilCount int
	allStable := true

	for _, r := range allResources {
		limit := q.Limits.limit(r)
		current := q.Usage.Current(r)
		pattern := q.Usage.Pattern(r)
		if pattern != Stable {
			allStable = false
		}
		var util float64
		if limit > 0 {
			util = current / limit * 100
			utilSum += util
			utilCount++
		}
		snap.Resources = append(snap.Resources, ResourceUsageSnapshot{
			Resource: r, Current: current, Limit: limit, UtilizationPercent: util,
			Pattern: pattern, Peak: q.Usage.Peak(r),
		})
	}

	var avgUtil float64
	if utilCount > 0 {
		avgUtil = utilSum / float64(utilCount)
	}
	snap.PerformanceScore = PerformanceScore(avgUtil, allStable && utilCount > 0)
	return snap
}
