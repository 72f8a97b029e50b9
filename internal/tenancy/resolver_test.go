package tenancy

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

type stubRepository struct {
	mu      sync.Mutex
	byRoute map[string]*Tenant
	byID    map[string]*Tenant
	lookups int
}

func newStubRepository(tenants ...*Tenant) *stubRepository {
	r := &stubRepository{byRoute: map[string]*Tenant{}, byID: map[string]*Tenant{}}
	for _, t := range tenants {
		r.byID[t.ID] = t
		if t.RoutingKey != "" {
			r.byRoute[t.RoutingKey] = t
		}
	}
	return r
}

func (r *stubRepository) GetByRoutingKey(_ context.Context, key string) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if t, ok := r.byRoute[key]; ok {
		dup := *t
		return &dup, nil
	}
	return nil, ErrTenantNotFound
}

func (r *stubRepository) GetByID(_ context.Context, id string) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if t, ok := r.byID[id]; ok {
		dup := *t
		return &dup, nil
	}
	return nil, ErrTenantNotFound
}

func activeTenant(id, route string) *Tenant {
	return &Tenant{ID: id, Name: "Agency " + id, RoutingKey: route, Status: StatusActive}
}

func TestResolve_CachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newStubRepository(activeTenant("t-1", "inst-1"))
	resolver := NewCachedResolver(repo, client, logging.Discard(), WithCacheTTL(time.Minute))

	ctx := context.Background()
	first, err := resolver.Resolve(ctx, "inst-1")
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, "inst-1")
	require.NoError(t, err)

	assert.Equal(t, "t-1", first.ID)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.lookups)
	assert.True(t, mr.Exists("tenant:route:inst-1"))

	require.NoError(t, resolver.Invalidate(ctx, first))
	assert.False(t, mr.Exists("tenant:route:inst-1"))
}

func TestResolve_CacheOmitsSinkSettings(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tenant := activeTenant("t-1", "inst-1")
	tenant.Sinks = []SinkConfig{{Type: "pipedrive", Enabled: true, Settings: map[string]string{"api_token": "pd-secret"}}}
	resolver := NewCachedResolver(newStubRepository(tenant), client, logging.Discard(), WithCacheTTL(time.Minute))

	ctx := context.Background()
	resolved, err := resolver.Resolve(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, resolved.Sinks, 1)
	assert.Equal(t, "pipedrive", resolved.Sinks[0].Type)
	assert.True(t, resolved.Sinks[0].Enabled)
	assert.Empty(t, resolved.Sinks[0].Settings)

	cached, err := mr.Get("tenant:route:inst-1")
	require.NoError(t, err)
	assert.NotContains(t, cached, "pd-secret")

	full, err := resolver.GetWithSinks(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "pd-secret", full.Sinks[0].Setting("api_token"))
	assert.Equal(t, "pd-secret", tenant.Sinks[0].Setting("api_token"), "repository copy is untouched")
}

func TestResolve_UnknownWithoutFallbackFailsClosed(t *testing.T) {
	resolver := NewCachedResolver(newStubRepository(), nil, logging.Discard())
	_, err := resolver.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = resolver.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestResolve_UsesFallbackTenant(t *testing.T) {
	repo := newStubRepository(activeTenant("default", ""))
	resolver := NewCachedResolver(repo, nil, logging.Discard(), WithFallbackTenant("default"))

	tenant, err := resolver.Resolve(context.Background(), "unknown-instance")
	require.NoError(t, err)
	assert.Equal(t, "default", tenant.ID)
}

func TestResolve_InactiveTenantDoesNotFallBack(t *testing.T) {
	inactive := activeTenant("t-off", "inst-off")
	inactive.Status = StatusInactive
	repo := newStubRepository(inactive, activeTenant("default", ""))
	resolver := NewCachedResolver(repo, nil, logging.Discard(), WithFallbackTenant("default"))

	_, err := resolver.Resolve(context.Background(), "inst-off")
	assert.ErrorIs(t, err, ErrTenantInactive)
}

func TestResolve_MisconfiguredTenant(t *testing.T) {
	broken := &Tenant{ID: "t-x", RoutingKey: "inst-x", Status: StatusActive}
	resolver := NewCachedResolver(newStubRepository(broken), nil, logging.Discard())

	_, err := resolver.Resolve(context.Background(), "inst-x")
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestPersonaIsCustom(t *testing.T) {
	assert.False(t, Persona{}.IsCustom())
	assert.False(t, Persona{QualificationQuestions: []string{" "}}.IsCustom())
	assert.True(t, Persona{AgentName: "Bia"}.IsCustom())
	assert.True(t, Persona{QualificationQuestions: []string{"Team size?"}}.IsCustom())
}

func TestEnabledSinks(t *testing.T) {
	tenant := &Tenant{Sinks: []SinkConfig{
		{Type: "rdstation", Enabled: true},
		{Type: "sheets", Enabled: false},
		{Type: "", Enabled: true},
	}}
	sinks := tenant.EnabledSinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, "rdstation", sinks[0].Type)
}
