package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// TenantLookup loads a tenant by id with its sink settings.
type TenantLookup interface {
	GetWithSinks(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
}

// Factory builds a sink from one tenant sink configuration.
type Factory func(tenant *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error)

// Registry turns tenant sink configurations into runnable sinks.
type Registry struct {
	tenants TenantLookup
	logger  *logging.Logger

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry; call Register for each sink type.
func NewRegistry(tenants TenantLookup, logger *logging.Logger) *Registry {
	if tenants == nil {
		panic("fanout: tenant lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{tenants: tenants, logger: logger, factories: make(map[string]Factory)}
}

// Register binds a sink type to its factory. Later calls replace earlier ones.
func (r *Registry) Register(sinkType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sinkType] = f
}

// Sinks implements SinkSource. A type with no registered factory becomes a
// skipped sink; a factory error becomes a failing one. Both show up in the sync log.
func (r *Registry) Sinks(ctx context.Context, tenantID string) ([]Sink, error) {
	tenant, err := r.tenants.GetWithSinks(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fanout: load tenant %s: %w", tenantID, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := tenant.EnabledSinks()
	sinks := make([]Sink, 0, len(configs))
	for _, cfg := range configs {
		factory, ok := r.factories[cfg.Type]
		if !ok {
			sinks = append(sinks, unavailableSink{name: cfg.Type, reason: "sink type not available"})
			continue
		}
		sink, err := factory(tenant, cfg)
		if err != nil {
			r.logger.Warn("fanout: sink misconfigured", "tenant_id", tenant.ID, "sink", cfg.Type, "error", err)
			sinks = append(sinks, unavailableSink{name: cfg.Type, err: err})
			continue
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// requireSetting returns the named setting or an ErrSinkConfig error.
func requireSetting(cfg tenancy.SinkConfig, key string) (string, error) {
	v := cfg.Setting(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s requires %q", ErrSinkConfig, cfg.Type, key)
	}
	return v, nil
}

var _ SinkSource = (*Registry)(nil)
