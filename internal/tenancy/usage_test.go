package tenancy

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeter(t *testing.T) (*UsageMeter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	meter := NewUsageMeter(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	meter.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return meter, mr
}

func TestUsageMeter_UnlimitedBudget(t *testing.T) {
	meter, _ := newTestMeter(t)
	ok, err := meter.HasCapacity(context.Background(), &Tenant{ID: "t-1"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsageMeter_ExhaustsBudget(t *testing.T) {
	meter, mr := newTestMeter(t)
	ctx := context.Background()
	tenant := &Tenant{ID: "t-1", MonthlyTokenBudget: 1000}

	require.NoError(t, meter.Record(ctx, "t-1", 600))
	ok, err := meter.HasCapacity(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, meter.Record(ctx, "t-1", 400))
	ok, err = meter.HasCapacity(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, ok)

	used, err := meter.Used(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), used)
	assert.True(t, mr.Exists("usage:tokens:t-1:2026-03"))
	assert.Greater(t, mr.TTL("usage:tokens:t-1:2026-03"), time.Duration(0))
}

func TestUsageMeter_IgnoresNonPositive(t *testing.T) {
	meter, mr := newTestMeter(t)
	require.NoError(t, meter.Record(context.Background(), "t-1", 0))
	assert.False(t, mr.Exists("usage:tokens:t-1:2026-03"))
}

func TestUsageMeter_RedisDown(t *testing.T) {
	meter, mr := newTestMeter(t)
	mr.Close()
	_, err := meter.HasCapacity(context.Background(), &Tenant{ID: "t-1", MonthlyTokenBudget: 10})
	assert.Error(t, err)
}
