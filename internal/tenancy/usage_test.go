package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceCounterDailyResetOnStaleness(t *testing.T) {
	c := newResourceCounter(true)
	c.record(10, time.Now())
	assert.Equal(t, 10.0, c.value)

	future := time.Now().Add(25 * time.Hour)
	c.checkStaleness(future)
	assert.Equal(t, 0.0, c.value)
}

func TestResourceCounterMonotonicNeverResets(t *testing.T) {
	c := newResourceCounter(false)
	c.record(10, time.Now())
	c.checkStaleness(time.Now().Add(48 * time.Hour))
	assert.Equal(t, 10.0, c.value)
}

func TestDetectPatternGrowing(t *testing.T) {
	c := newResourceCounter(false)
	// Volatility is checked first, and a ramp's variance grows with the
	// square of its step while the threshold only grows with its mean, so
	// a steep ramp (e.g. step 100) classifies as Volatile. A shallow ramp
	// does read as Growing: step 0.05 over 24 samples gives mean 0.4,
	// variance ~0.12 (under half the mean) and slope 0.05 > 10% of the mean.
	for i := 0; i < rollingWindowSize; i++ {
		c.window = append(c.window, -0.175+float64(i)*0.05)
	}
	assert.Equal(t, Growing, c.DetectPattern())
}

func TestDetectPatternStableUnderConstantLoad(t *testing.T) {
	c := newResourceCounter(true)
	for i := 0; i < rollingWindowSize; i++ {
		c.window = append(c.window, 10)
	}
	assert.Equal(t, Stable, c.DetectPattern())
}

func TestDetectPatternVolatile(t *testing.T) {
	c := newResourceCounter(false)
	for i := 0; i < rollingWindowSize; i++ {
		if i%2 == 0 {
			c.window = append(c.window, 1000)
		} else {
			c.window = append(c.window, -500)
		}
	}
	assert.Equal(t, Volatile, c.DetectPattern())
}

func TestAPICallLimiterAllowsUpToBurst(t *testing.T) {
	limiter := NewAPICallLimiter(1, 3)
	allowed := 0
	for i := 0; i < 5; i++ {
		if limiter.Allow("tenant-a") {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

type fakeUsageMirror struct {
	calls []ResourceType
}

func (m *fakeUsageMirror) IncrBy(ctx context.Context, tenantID string, resource ResourceType, day time.Time, amount int64) error {
	m.calls = append(m.calls, resource)
	return nil
}

func TestRecordTenantUsageForwardsToAttachedMirror(t *testing.T) {
	mirror := &fakeUsageMirror{}
	manager := NewTenantManager(NoopAlertSink{}).WithUsageMirror(mirror)
	_, err := manager.CreateTenant("tenant-a", "Tenant A", Strict, Standard, ResourceLimits{EventsPerDay: 1000})
	assert.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, manager.RecordTenantUsage(ctx, "tenant-a", ResourceEvents, 5))
	assert.Equal(t, []ResourceType{ResourceEvents}, mirror.calls)
}

func TestCheckTenantQuotaDeniesBurstBeyondLimiterEvenWithDailyHeadroom(t *testing.T) {
	manager := NewTenantManager(NoopAlertSink{}).WithAPICallLimiter(NewAPICallLimiter(1, 2))
	_, err := manager.CreateTenant("tenant-a", "Tenant A", Strict, Standard, ResourceLimits{APICallsPerDay: 1000})
	assert.NoError(t, err)

	ctx := context.Background()
	allowed := 0
	for i := 0; i < 5; i++ {
		result, err := manager.CheckTenantQuota(ctx, "tenant-a", ResourceAPICalls, 1)
		assert.NoError(t, err)
		if result.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed, "daily quota has ample headroom, so the limiter's burst cap is what should bind")
}
