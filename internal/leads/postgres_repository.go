package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps conversations and messages in Postgres. Writes are
// guarded by the conversation version column.
type PostgresStore struct {
	pool         pgxConn
	historyLimit int
	now          func() time.Time
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool, historyLimit int) *PostgresStore {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return newPostgresStoreWithConn(pool, historyLimit)
}

func newPostgresStoreWithConn(conn pgxConn, historyLimit int) *PostgresStore {
	if conn == nil {
		panic("leads: pgx conn required")
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &PostgresStore{pool: conn, historyLimit: historyLimit, now: time.Now}
}

// GetConversation loads a conversation and its most recent messages.
func (s *PostgresStore) GetConversation(ctx context.Context, tenantID, phone string) (ConversationView, error) {
	view := ConversationView{TenantID: tenantID, Phone: phone, Status: StatusNew}

	query := `
		SELECT id, display_name, lead_data, status, message_count, version
		FROM conversations
		WHERE tenant_id = $1 AND phone = $2
	`
	var (
		leadJSON []byte
		status   string
	)
	err := s.pool.QueryRow(ctx, query, tenantID, phone).Scan(
		&view.ConversationID,
		&view.DisplayName,
		&leadJSON,
		&status,
		&view.MessageCount,
		&view.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return view, nil
	}
	if err != nil {
		return ConversationView{}, fmt.Errorf("leads: select conversation: %w", err)
	}
	view.Exists = true
	view.Status = Status(status)
	if len(leadJSON) > 0 {
		if err := json.Unmarshal(leadJSON, &view.LeadData); err != nil {
			return ConversationView{}, fmt.Errorf("leads: decode lead data: %w", err)
		}
	}

	history, err := s.recentMessages(ctx, view.ConversationID)
	if err != nil {
		return ConversationView{}, err
	}
	view.History = history
	return view, nil
}

func (s *PostgresStore) recentMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := `
		SELECT id, role, content, tokens_used, metadata, created_at
		FROM (
			SELECT id, role, content, tokens_used, metadata, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, conversationID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("leads: select messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg      Message
			role     string
			metaJSON []byte
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.TokensUsed, &metaJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("leads: scan message: %w", err)
		}
		msg.ConversationID = conversationID
		msg.Role = Role(role)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("leads: decode message metadata: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: iterate messages: %w", err)
	}
	return out, nil
}

// AppendTurn stores a user/assistant pair and the merged lead state in one
// transaction. It returns ErrVersionConflict when the row moved past
// turn.ExpectedVersion.
func (s *PostgresStore) AppendTurn(ctx context.Context, turn Turn) (AppendResult, error) {
	if err := turn.validate(); err != nil {
		return AppendResult{}, err
	}
	at := turn.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	leadJSON, err := json.Marshal(turn.LeadData)
	if err != nil {
		return AppendResult{}, fmt.Errorf("leads: encode lead data: %w", err)
	}
	userMeta, err := encodeMetadata(turn.UserMetadata)
	if err != nil {
		return AppendResult{}, err
	}
	assistantMeta, err := encodeMetadata(turn.AssistantMetadata)
	if err != nil {
		return AppendResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AppendResult{}, fmt.Errorf("leads: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	insertConversation := `
		INSERT INTO conversations (id, tenant_id, phone, display_name, lead_data, status, message_count, version, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, '{}'::jsonb, 'new', 0, 0, $5, $5)
		ON CONFLICT (tenant_id, phone) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertConversation, uuid.NewString(), turn.TenantID, turn.Phone, turn.DisplayName, at)
	if err != nil {
		return AppendResult{}, fmt.Errorf("leads: ensure conversation: %w", err)
	}
	created := tag.RowsAffected() > 0

	var (
		conversationID string
		version        int64
	)
	lockRow := `SELECT id, version FROM conversations WHERE tenant_id = $1 AND phone = $2 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockRow, turn.TenantID, turn.Phone).Scan(&conversationID, &version); err != nil {
		return AppendResult{}, fmt.Errorf("leads: lock conversation: %w", err)
	}
	if version != turn.ExpectedVersion {
		return AppendResult{}, ErrVersionConflict
	}

	insertMessage := `
		INSERT INTO messages (id, conversation_id, role, content, tokens_used, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, insertMessage, uuid.NewString(), conversationID, string(RoleUser), turn.UserText, 0, userMeta, at); err != nil {
		return AppendResult{}, fmt.Errorf("leads: insert user message: %w", err)
	}
	if _, err := tx.Exec(ctx, insertMessage, uuid.NewString(), conversationID, string(RoleAssistant), turn.AssistantText, turn.AssistantTokens, assistantMeta, at.Add(time.Millisecond)); err != nil {
		return AppendResult{}, fmt.Errorf("leads: insert assistant message: %w", err)
	}

	update := `
		UPDATE conversations
		SET display_name = CASE WHEN $2 <> '' THEN $2 ELSE display_name END,
		    lead_data = $3,
		    status = $4,
		    message_count = message_count + 2,
		    version = version + 1,
		    last_message_at = $5
		WHERE id = $1
		RETURNING message_count, version
	`
	result := AppendResult{ConversationID: conversationID, Created: created}
	if err := tx.QueryRow(ctx, update, conversationID, turn.DisplayName, leadJSON, string(turn.Status), at).Scan(&result.MessageCount, &result.Version); err != nil {
		return AppendResult{}, fmt.Errorf("leads: update conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, fmt.Errorf("leads: commit turn: %w", err)
	}
	committed = true
	return result, nil
}

// SetStatus overrides the qualification status, returning the updated
// conversation and the status it replaced.
func (s *PostgresStore) SetStatus(ctx context.Context, tenantID, phone string, status Status) (Conversation, Status, error) {
	if !status.Valid() {
		return Conversation{}, "", fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	query := `
		WITH prev AS (
			SELECT id, status FROM conversations
			WHERE tenant_id = $1 AND phone = $2
			FOR UPDATE
		)
		UPDATE conversations c
		SET status = $3, version = c.version + 1
		FROM prev
		WHERE c.id = prev.id
		RETURNING c.id, c.display_name, c.lead_data, c.message_count, c.version, c.created_at, c.last_message_at, prev.status
	`
	conv := Conversation{TenantID: tenantID, Phone: phone, Status: status}
	var (
		leadJSON []byte
		previous string
	)
	err := s.pool.QueryRow(ctx, query, tenantID, phone, string(status)).Scan(
		&conv.ID,
		&conv.DisplayName,
		&leadJSON,
		&conv.MessageCount,
		&conv.Version,
		&conv.CreatedAt,
		&conv.LastMessageAt,
		&previous,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, "", ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, "", fmt.Errorf("leads: update status: %w", err)
	}
	if len(leadJSON) > 0 {
		if err := json.Unmarshal(leadJSON, &conv.LeadData); err != nil {
			return Conversation{}, "", fmt.Errorf("leads: decode lead data: %w", err)
		}
	}
	return conv, Status(previous), nil
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("leads: encode metadata: %w", err)
	}
	return data, nil
}
