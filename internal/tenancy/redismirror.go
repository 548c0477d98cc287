package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageMirror is the narrow interface RecordUsage calls into, satisfied
// by *RedisUsageMirror and by any test fake. A nil UsageMirror disables
// mirroring entirely.
type UsageMirror interface {
	IncrBy(ctx context.Context, tenantID string, resource ResourceType, day time.Time, amount int64) error
}

// RedisUsageMirror lets multiple eventcore process instances agree on
// daily usage counters without a shared SQL transaction per increment:
// RecordUsage additionally INCRBYs a Redis key per (tenant, resource,
// day). Disabled by default; opt in by constructing one and passing it
// to Quota.
type RedisUsageMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisUsageMirror wraps client. Keys expire after ttl (callers
// typically pick something a little over 24h so a slow day boundary
// doesn't truncate the counter early).
func NewRedisUsageMirror(client *redis.Client, ttl time.Duration) *RedisUsageMirror {
	return &RedisUsageMirror{client: client, ttl: ttl}
}

func mirrorKey(tenantID string, resource ResourceType, day time.Time) string {
	return fmt.Sprintf("eventcore:usage:%s:%s:%s", tenantID, resource, day.Format("2006-01-02"))
}

func (m *RedisUsageMirror) IncrBy(ctx context.Context, tenantID string, resource ResourceType, day time.Time, amount int64) error {
	key := mirrorKey(tenantID, resource, day)
	pipe := m.client.TxPipeline()
	pipe.IncrBy(ctx, key, amount)
	pipe.Expire(ctx, key, m.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
