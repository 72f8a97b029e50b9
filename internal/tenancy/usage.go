package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// usageRetention keeps a month's counter around long enough for reporting.
const usageRetention = 40 * 24 * time.Hour

// UsageMeter tracks model tokens consumed by each tenant per calendar month.
type UsageMeter struct {
	redis *redis.Client
	now   func() time.Time
}

// NewUsageMeter builds a Redis backed meter.
func NewUsageMeter(redisClient *redis.Client) *UsageMeter {
	if redisClient == nil {
		panic("tenancy: redis client required")
	}
	return &UsageMeter{redis: redisClient, now: time.Now}
}

// HasCapacity reports whether the tenant is still under its monthly token budget.
// A zero or negative budget means unlimited.
func (m *UsageMeter) HasCapacity(ctx context.Context, t *Tenant) (bool, error) {
	if t == nil || t.MonthlyTokenBudget <= 0 {
		return true, nil
	}
	used, err := m.Used(ctx, t.ID)
	if err != nil {
		return false, err
	}
	return used < t.MonthlyTokenBudget, nil
}

// Used returns the tokens consumed so far this month.
func (m *UsageMeter) Used(ctx context.Context, tenantID string) (int64, error) {
	used, err := m.redis.Get(ctx, m.key(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("tenancy: read usage: %w", err)
	}
	return used, nil
}

// Record adds consumed tokens to the tenant's monthly counter.
func (m *UsageMeter) Record(ctx context.Context, tenantID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	key := m.key(tenantID)
	pipe := m.redis.TxPipeline()
	pipe.IncrBy(ctx, key, tokens)
	pipe.Expire(ctx, key, usageRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenancy: record usage: %w", err)
	}
	return nil
}

func (m *UsageMeter) key(tenantID string) string {
	return fmt.Sprintf("usage:tokens:%s:%s", tenantID, m.now().UTC().Format("2006-01"))
}
