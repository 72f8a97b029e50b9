package leads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds how many past messages a read returns.
const DefaultHistoryLimit = 10

// Turn is one user message and the assistant reply, plus the lead state they produced.
type Turn struct {
	TenantID    string
	Phone       string
	DisplayName string
	// ExpectedVersion is the version seen by the read; 0 when the read found nothing.
	ExpectedVersion int64

	UserText          string
	UserMetadata      map[string]string
	AssistantText     string
	AssistantTokens   int
	AssistantMetadata map[string]string

	LeadData LeadData
	Status   Status
	At       time.Time
}

func (t Turn) validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return fmt.Errorf("leads: tenant id is required")
	}
	if t.Phone == "" {
		return ErrInvalidPhone
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	return nil
}

// AppendResult reports the conversation state after a turn was stored.
type AppendResult struct {
	ConversationID string
	Created        bool
	MessageCount   int
	Version        int64
}

// Store is the durable per-tenant, per-phone conversation memory.
type Store interface {
	GetConversation(ctx context.Context, tenantID, phone string) (ConversationView, error)
	AppendTurn(ctx context.Context, turn Turn) (AppendResult, error)
	SetStatus(ctx context.Context, tenantID, phone string, status Status) (Conversation, Status, error)
}

// MemoryStore keeps conversations in process. It backs tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	historyLimit int
	records      map[string]*memoryRecord
}

type memoryRecord struct {
	conversation Conversation
	messages     []Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MemoryStore{
		historyLimit: historyLimit,
		records:      make(map[string]*memoryRecord),
	}
}

func memoryKey(tenantID, phone string) string {
	return tenantID + "|" + phone
}

// GetConversation returns the conversation view, or an empty view for an unseen phone.
func (s *MemoryStore) GetConversation(ctx context.Context, tenantID, phone string) (ConversationView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[memoryKey(tenantID, phone)]
	if !ok {
		return ConversationView{TenantID: tenantID, Phone: phone, Status: StatusNew}, nil
	}
	start := len(rec.messages) - s.historyLimit
	if start < 0 {
		start = 0
	}
	history := make([]Message, len(rec.messages)-start)
	copy(history, rec.messages[start:])

	c := rec.conversation
	return ConversationView{
		Exists:         true,
		ConversationID: c.ID,
		TenantID:       c.TenantID,
		Phone:          c.Phone,
		DisplayName:    c.DisplayName,
		LeadData:       c.LeadData.Clone(),
		Status:         c.Status,
		History:        history,
		MessageCount:   c.MessageCount,
		Version:        c.Version,
	}, nil
}

// AppendTurn creates the conversation if needed and stores both messages.
func (s *MemoryStore) AppendTurn(ctx context.Context, turn Turn) (AppendResult, error) {
	if err := turn.validate(); err != nil {
		return AppendResult{}, err
	}
	at := turn.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(turn.TenantID, turn.Phone)
	rec, ok := s.records[key]
	created := false
	if !ok {
		rec = &memoryRecord{conversation: Conversation{
			ID:        uuid.NewString(),
			TenantID:  turn.TenantID,
			Phone:     turn.Phone,
			Status:    StatusNew,
			CreatedAt: at,
		}}
		s.records[key] = rec
		created = true
	}
	if rec.conversation.Version != turn.ExpectedVersion {
		if created {
			delete(s.records, key)
		}
		return AppendResult{}, ErrVersionConflict
	}

	c := &rec.conversation
	rec.messages = append(rec.messages,
		Message{
			ID:             uuid.NewString(),
			ConversationID: c.ID,
			Role:           RoleUser,
			Content:        turn.UserText,
			Metadata:       turn.UserMetadata,
			CreatedAt:      at,
		},
		Message{
			ID:             uuid.NewString(),
			ConversationID: c.ID,
			Role:           RoleAssistant,
			Content:        turn.AssistantText,
			TokensUsed:     turn.AssistantTokens,
			Metadata:       turn.AssistantMetadata,
			CreatedAt:      at.Add(time.Millisecond),
		},
	)
	if turn.DisplayName != "" {
		c.DisplayName = turn.DisplayName
	}
	c.LeadData = turn.LeadData.Clone()
	c.Status = turn.Status
	c.MessageCount += 2
	c.Version++
	c.LastMessageAt = at

	return AppendResult{
		ConversationID: c.ID,
		Created:        created,
		MessageCount:   c.MessageCount,
		Version:        c.Version,
	}, nil
}

// SetStatus overrides the status of an existing conversation.
func (s *MemoryStore) SetStatus(ctx context.Context, tenantID, phone string, status Status) (Conversation, Status, error) {
	if !status.Valid() {
		return Conversation{}, "", fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey(tenantID, phone)]
	if !ok {
		return Conversation{}, "", ErrConversationNotFound
	}
	previous := rec.conversation.Status
	rec.conversation.Status = status
	rec.conversation.Version++
	out := rec.conversation
	out.LeadData = out.LeadData.Clone()
	return out, previous, nil
}

// MessageCount returns how many messages are stored for a conversation.
func (s *MemoryStore) MessageCount(tenantID, phone string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[memoryKey(tenantID, phone)]; ok {
		return len(rec.messages)
	}
	return 0
}

// ConversationCount returns how many conversations exist.
func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
