package events

import "time"

// Lead event type names. They double as AMQP routing keys.
const (
	TypeLeadUpdated   = "lead.updated.v1"
	TypeLeadQualified = "lead.qualified.v1"
	TypeLeadScheduled = "lead.scheduled.v1"
)

// LeadEventV1 is the payload shared by all lead events.
type LeadEventV1 struct {
	Type           string            `json:"-"`
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	Phone          string            `json:"phone"`
	DisplayName    string            `json:"display_name,omitempty"`
	LeadData       map[string]string `json:"lead_data"`
	Status         string            `json:"status"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	MessageCount   int               `json:"message_count"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

func (e LeadEventV1) EventType() string {
	if e.Type == "" {
		return TypeLeadUpdated
	}
	return e.Type
}

// LeadEventType picks the event name for a status. Only fresh transitions
// into qualified or scheduled get their own type.
func LeadEventType(status, previous string) string {
	if status == previous {
		return TypeLeadUpdated
	}
	switch status {
	case "qualified":
		return TypeLeadQualified
	case "scheduled":
		return TypeLeadScheduled
	}
	return TypeLeadUpdated
}
