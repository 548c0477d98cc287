package tenancy

import (
	"context"
	"sync"
	"time"
)

// TenantManager coordinates the isolation registry and each tenant's
// Quota object. CheckTenantQuota/RecordTenantUsage against an
// unregistered tenant always return a Tenant error, never a zero-value
// quota result.
type TenantManager struct {
	isolation *IsolationValidator
	sink      AlertSink
	limiter   *APICallLimiter
	mirror    UsageMirror

	mu     sync.RWMutex
	quotas map[string]*Quota
}

// NewTenantManager builds a manager posting quota alerts through sink.
func NewTenantManager(sink AlertSink) *TenantManager {
	return &TenantManager{
		isolation: NewIsolationValidator(),
		sink:      sink,
		quotas:    make(map[string]*Quota),
	}
}

// WithAPICallLimiter attaches a token-bucket limiter that CheckTenantQuota
// consults before the daily APICalls quota for any check against
// ResourceAPICalls, rejecting bursts the daily counter alone would still
// have headroom for. Returns m for chaining off NewTenantManager.
func (m *TenantManager) WithAPICallLimiter(limiter *APICallLimiter) *TenantManager {
	m.limiter = limiter
	return m
}

// WithUsageMirror attaches a cross-process usage mirror; every tenant
// registered afterward has it wired into its Quota so RecordUsage
// forwards counts to it alongside the in-process counters.
func (m *TenantManager) WithUsageMirror(mirror UsageMirror) *TenantManager {
	m.mirror = mirror
	return m
}

// CreateTenant registers a new tenant record and its quota object.
func (m *TenantManager) CreateTenant(tenantID, displayName string, policy IsolationPolicy, tier QuotaTier, limits ResourceLimits) (*TenantRecord, error) {
	if !ValidTenantID(tenantID) {
		return nil, &TenantError{TenantID: tenantID, Reason: "invalid tenant id"}
	}
	now := time.Now()
	record := &TenantRecord{
		TenantID: tenantID, DisplayName: displayName, IsolationPolicy: policy,
		Status: Active, Tier: tier, CreatedAt: now, LastActivity: now,
	}
	m.isolation.Register(record)

	q := NewQuota(tenantID, tier, limits, m.sink)
	q.Mirror = m.mirror

	m.mu.Lock()
	m.quotas[tenantID] = q
	m.mu.Unlock()

	return record, nil
}

// GetTenant returns the tenant's record, or a Tenant error if unknown.
func (m *TenantManager) GetTenant(tenantID string) (*TenantRecord, error) {
	rec := m.isolation.Get(tenantID)
	if rec == nil {
		return nil, &TenantError{TenantID: tenantID, Reason: "unknown tenant"}
	}
	return rec, nil
}

// UpdateTenant applies mutate to the tenant's record under the
// isolation registry's protection.
func (m *TenantManager) UpdateTenant(tenantID string, mutate func(*TenantRecord)) error {
	rec := m.isolation.Get(tenantID)
	if rec == nil {
		return &TenantError{TenantID: tenantID, Reason: "unknown tenant"}
	}
	mutate(rec)
	m.isolation.Register(rec)
	return nil
}

// DeleteTenant soft-deletes the tenant; subsequent operations against it
// fail isolation validation.
func (m *TenantManager) DeleteTenant(tenantID string) error {
	if m.isolation.Get(tenantID) == nil {
		return &TenantError{TenantID: tenantID, Reason: "unknown tenant"}
	}
	m.isolation.Delete(tenantID)
	return nil
}

// ListTenants returns every registered tenant record.
func (m *TenantManager) ListTenants() []*TenantRecord { return m.isolation.List() }

// quotaFor looks up a tenant's quota, returning a Tenant error (never a
// zero-value *Quota) when the tenant is unregistered.
func (m *TenantManager) quotaFor(tenantID string) (*Quota, error) {
	m.mu.RLock()
	q, ok := m.quotas[tenantID]
	m.mu.RUnlock()
	if !ok {
		return nil, &TenantError{TenantID: tenantID, Reason: "unregistered tenant has no quota"}
	}
	return q, nil
}

// CheckTenantQuota delegates to the tenant's Quota.CheckQuota. For
// ResourceAPICalls, an attached APICallLimiter is consulted first: a
// burst that exceeds the token bucket is denied even when the daily
// counter still has headroom.
func (m *TenantManager) CheckTenantQuota(ctx context.Context, tenantID string, resource ResourceType, amount float64) (QuotaCheckResult, error) {
	q, err := m.quotaFor(tenantID)
	if err != nil {
		return QuotaCheckResult{}, err
	}
	if resource == ResourceAPICalls && m.limiter != nil && !m.limiter.Allow(tenantID) {
		var current float64
		for _, r := range q.GetUsage().Resources {
			if r.Resource == ResourceAPICalls {
				current = r.Current
				break
			}
		}
		return QuotaCheckResult{Allowed: false, Current: current}, nil
	}
	return q.CheckQuota(ctx, resource, amount), nil
}

// RecordTenantUsage delegates to the tenant's Quota.RecordUsage and
// mirrors the activity onto the tenant record (TotalEvents,
// TotalAggregates, StorageUsedMB, LastActivity).
func (m *TenantManager) RecordTenantUsage(ctx context.Context, tenantID string, resource ResourceType, amount float64) error {
	q, err := m.quotaFor(tenantID)
	if err != nil {
		return err
	}
	if err := q.RecordUsage(ctx, resource, amount); err != nil {
		return err
	}

	return m.UpdateTenant(tenantID, func(rec *TenantRecord) {
		rec.LastActivity = time.Now()
		switch resource {
		case ResourceEvents:
			rec.TotalEvents += int64(amount)
		case ResourceAggregates:
			rec.TotalAggregates += int64(amount)
		case ResourceStorageMB:
			rec.StorageUsedMB += amount
		}
	})
}

// GetTenantUsage returns the tenant's usage snapshot.
func (m *TenantManager) GetTenantUsage(tenantID string) (UsageSnapshot, error) {
	q, err := m.quotaFor(tenantID)
	if err != nil {
		return UsageSnapshot{}, err
	}
	return q.GetUsage(), nil
}

// GetTenantsNearLimits returns tenant ids with any resource above 80%
// utilization.
func (m *TenantManager) GetTenantsNearLimits() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var near []string
	for id, q := range m.quotas {
		snap := q.GetUsage()
		for _, r := range snap.Resources {
			if r.UtilizationPercent >= 80 {
				near = append(near, id)
				break
			}
		}
	}
	return near
}

// GetIsolationMetrics exposes the validator's accumulated metrics.
func (m *TenantManager) GetIsolationMetrics() IsolationMetrics { return m.isolation.Metrics() }

// ValidateOperation runs the isolation check for op on behalf of
// tenantID; façade callers invoke this before touching storage.
func (m *TenantManager) ValidateOperation(tenantID string, op Operation) error {
	return m.isolation.Validate(tenantID, op)
}

// Stats exposes the registry-wide performance stats.
func (m *TenantManager) Stats() PerformanceStats { return m.isolation.Stats() }
