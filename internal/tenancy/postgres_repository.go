package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads tenants from durable storage.
type Repository interface {
	GetByRoutingKey(ctx context.Context, routingKey string) (*Tenant, error)
	GetByID(ctx context.Context, id string) (*Tenant, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads tenants from the tenants table.
type PostgresRepository struct {
	pool rowQuerier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("tenancy: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q rowQuerier) *PostgresRepository {
	if q == nil {
		panic("tenancy: querier required")
	}
	return &PostgresRepository{pool: q}
}

const tenantColumns = `id, name, routing_key, status, persona, sinks, monthly_token_budget, COALESCE(capacity_reply, '')`

// GetByRoutingKey finds the tenant owning a WhatsApp instance name.
func (r *PostgresRepository) GetByRoutingKey(ctx context.Context, routingKey string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE routing_key = $1`
	return r.scan(r.pool.QueryRow(ctx, query, routingKey))
}

// GetByID fetches a tenant by primary key.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return r.scan(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) scan(row pgx.Row) (*Tenant, error) {
	var (
		t           Tenant
		status      string
		personaJSON []byte
		sinksJSON   []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.RoutingKey, &status, &personaJSON, &sinksJSON, &t.MonthlyTokenBudget, &t.CapacityReply); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("tenancy: select failed: %w", err)
	}
	t.Status = Status(status)
	if len(personaJSON) > 0 {
		if err := json.Unmarshal(personaJSON, &t.Persona); err != nil {
			return nil, fmt.Errorf("tenancy: decode persona for %s: %w", t.ID, err)
		}
	}
	if len(sinksJSON) > 0 {
		if err := json.Unmarshal(sinksJSON, &t.Sinks); err != nil {
			return nil, fmt.Errorf("tenancy: decode sinks for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
