package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedResolver looks tenants up through a short-lived Redis cache in front
// of the repository. Tenant config is read-mostly, so stale reads are bounded
// by the TTL. Sink settings hold CRM credentials and are never written to the
// cache; tenants served by Resolve and Get carry sink types only.
type CachedResolver struct {
	repo       Repository
	redis      *redis.Client
	ttl        time.Duration
	fallbackID string
	logger     *logging.Logger
}

// ResolverOption customizes a CachedResolver.
type ResolverOption func(*CachedResolver)

// WithCacheTTL overrides the cache lifetime. A zero TTL disables caching.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *CachedResolver) {
		r.ttl = ttl
	}
}

// WithFallbackTenant routes unknown routing keys to the given tenant id.
func WithFallbackTenant(tenantID string) ResolverOption {
	return func(r *CachedResolver) {
		r.fallbackID = strings.TrimSpace(tenantID)
	}
}

// NewCachedResolver builds a resolver. redisClient may be nil to skip caching.
func NewCachedResolver(repo Repository, redisClient *redis.Client, logger *logging.Logger, opts ...ResolverOption) *CachedResolver {
	if repo == nil {
		panic("tenancy: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &CachedResolver{
		repo:   repo,
		redis:  redisClient,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the active tenant for a routing key. Unknown keys use the
// fallback tenant when one is configured; inactive tenants never fall back.
func (r *CachedResolver) Resolve(ctx context.Context, routingKey string) (*Tenant, error) {
	routingKey = strings.TrimSpace(routingKey)
	var (
		tenant *Tenant
		err    error
	)
	if routingKey != "" {
		tenant, err = r.load(ctx, routeKey(routingKey), func() (*Tenant, error) {
			return r.repo.GetByRoutingKey(ctx, routingKey)
		})
	} else {
		err = ErrTenantNotFound
	}
	if errors.Is(err, ErrTenantNotFound) && r.fallbackID != "" {
		r.logger.Warn("tenant not found for routing key, using fallback tenant",
			"routing_key", routingKey,
			"fallback_tenant_id", r.fallbackID,
		)
		tenant, err = r.Get(ctx, r.fallbackID)
	}
	if err != nil {
		return nil, err
	}
	return checkTenant(tenant)
}

// Get returns a tenant by id regardless of routing.
func (r *CachedResolver) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantNotFound
	}
	return r.load(ctx, idKey(tenantID), func() (*Tenant, error) {
		return r.repo.GetByID(ctx, tenantID)
	})
}

// GetWithSinks reads a tenant straight from the repository, sink settings
// included.
func (r *CachedResolver) GetWithSinks(ctx context.Context, tenantID string) (*Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantNotFound
	}
	return r.repo.GetByID(ctx, tenantID)
}

// Invalidate drops cached entries for a tenant after an admin update.
func (r *CachedResolver) Invalidate(ctx context.Context, t *Tenant) error {
	if r.redis == nil || t == nil {
		return nil
	}
	keys := []string{idKey(t.ID)}
	if t.RoutingKey != "" {
		keys = append(keys, routeKey(t.RoutingKey))
	}
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("tenancy: invalidate cache: %w", err)
	}
	return nil
}

func (r *CachedResolver) load(ctx context.Context, key string, fetch func() (*Tenant, error)) (*Tenant, error) {
	if r.redis != nil && r.ttl > 0 {
		data, err := r.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var t Tenant
			if jsonErr := json.Unmarshal(data, &t); jsonErr == nil {
				return &t, nil
			}
			r.logger.Warn("discarding corrupt tenant cache entry", "key", key)
		case !errors.Is(err, redis.Nil):
			r.logger.Warn("tenant cache read failed", "key", key, "error", err)
		}
	}

	fetched, err := fetch()
	if err != nil {
		return nil, err
	}
	tenant := fetched.WithoutSinkSettings()

	if r.redis != nil && r.ttl > 0 {
		if data, err := json.Marshal(tenant); err == nil {
			if err := r.redis.Set(ctx, key, data, r.ttl).Err(); err != nil {
				r.logger.Warn("tenant cache write failed", "key", key, "error", err)
			}
		}
	}
	return tenant, nil
}

func checkTenant(t *Tenant) (*Tenant, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, fmt.Errorf("%w: %s", ErrTenantInactive, t.ID)
	}
	return t, nil
}

func routeKey(routingKey string) string {
	return fmt.Sprintf("tenant:route:%s", routingKey)
}

func idKey(id string) string {
	return fmt.Sprintf("tenant:id:%s", id)
}
