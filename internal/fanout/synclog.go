package fanout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const defaultSyncLogLimit = 50

// SyncLogEntry is one row of the sync audit trail.
type SyncLogEntry struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	JobID          string            `json:"job_id"`
	Sink           string            `json:"sink"`
	Phone          string            `json:"phone"`
	LeadData       map[string]string `json:"lead_data"`
	Status         Status            `json:"status"`
	Response       string            `json:"response,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewSyncLogEntry builds the row for one sink result.
func NewSyncLogEntry(job Job, res SinkResult, at time.Time) SyncLogEntry {
	return SyncLogEntry{
		ID:             uuid.NewString(),
		TenantID:       job.Snapshot.TenantID,
		ConversationID: job.Snapshot.ConversationID,
		JobID:          job.ID,
		Sink:           res.Sink,
		Phone:          job.Snapshot.Phone,
		LeadData:       job.Snapshot.Data.Map(),
		Status:         res.Status,
		Response:       truncate(res.Response, 2000),
		Error:          res.Error(),
		CreatedAt:      at.UTC(),
	}
}

// SyncLogStore keeps sync rows in Postgres through database/sql.
type SyncLogStore struct {
	db *sql.DB
}

// NewSyncLogStore creates a store over an open pgx stdlib handle.
func NewSyncLogStore(db *sql.DB) *SyncLogStore {
	if db == nil {
		panic("fanout: sql db required")
	}
	return &SyncLogStore{db: db}
}

// Record inserts one row.
func (s *SyncLogStore) Record(ctx context.Context, entry SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry.LeadData)
	if err != nil {
		return fmt.Errorf("fanout: marshal lead data: %w", err)
	}

	query := `
		INSERT INTO sync_logs (
			id, tenant_id, conversation_id, job_id, sink, phone,
			lead_data, status, response, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		nullString(entry.ConversationID),
		nullString(entry.JobID),
		entry.Sink,
		entry.Phone,
		data,
		string(entry.Status),
		nullString(entry.Response),
		nullString(entry.Error),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("fanout: insert sync log: %w", err)
	}
	return nil
}

// ListByTenant returns the newest rows first.
func (s *SyncLogStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultSyncLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(conversation_id, ''), COALESCE(job_id, ''), sink, phone,
		       lead_data, status, COALESCE(response, ''), COALESCE(error, ''), created_at
		FROM sync_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("fanout: list sync logs: %w", err)
	}
	defer rows.Close()

	var out []SyncLogEntry
	for rows.Next() {
		var (
			e      SyncLogEntry
			data   []byte
			status string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConversationID, &e.JobID, &e.Sink, &e.Phone,
			&data, &status, &e.Response, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("fanout: scan sync log: %w", err)
		}
		e.Status = Status(status)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.LeadData); err != nil {
				return nil, fmt.Errorf("fanout: decode lead data: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fanout: iterate sync logs: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ SyncLogger = (*SyncLogStore)(nil)
