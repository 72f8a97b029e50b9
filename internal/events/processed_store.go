package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records inbound transport message ids that were already
// answered, so webhook redeliveries are not replied to twice.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if we've answered this message id for the tenant.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, tenantID, messageID string) (bool, error) {
	query := `SELECT 1 FROM processed_messages WHERE tenant_id = $1 AND message_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, tenantID, messageID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts a message id for the tenant, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, tenantID, messageID string) (bool, error) {
	query := `
		INSERT INTO processed_messages (tenant_id, message_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, tenantID, messageID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MemoryProcessedStore is an in-process ProcessedStore for tests and local runs.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) AlreadyProcessed(_ context.Context, tenantID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[tenantID+"|"+messageID]
	return ok, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, tenantID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "|" + messageID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}
