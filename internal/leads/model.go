package leads

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Status is the qualification state of a lead.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusQualified  Status = "qualified"
	StatusLost       Status = "lost"
	StatusScheduled  Status = "scheduled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusQualified, StatusLost, StatusScheduled:
		return true
	}
	return false
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Core lead attribute keys.
const (
	FieldName      = "name"
	FieldCompany   = "company"
	FieldRole      = "role"
	FieldChallenge = "challenge"
	FieldBudget    = "budget"
	FieldUrgency   = "urgency"
)

// CoreFields lists the six attributes every conversation tries to learn, in prompt order.
var CoreFields = []string{FieldName, FieldCompany, FieldRole, FieldChallenge, FieldBudget, FieldUrgency}

// LeadData holds what is known about a lead. The six core attributes are
// named; tenant specific attributes live in Extras. It serializes as a flat object.
type LeadData struct {
	Name      string
	Company   string
	Role      string
	Challenge string
	Budget    string
	Urgency   string
	Extras    map[string]string
}

// Get returns the value stored under key.
func (d LeadData) Get(key string) string {
	switch key {
	case FieldName:
		return d.Name
	case FieldCompany:
		return d.Company
	case FieldRole:
		return d.Role
	case FieldChallenge:
		return d.Challenge
	case FieldBudget:
		return d.Budget
	case FieldUrgency:
		return d.Urgency
	}
	return d.Extras[key]
}

// Set stores value under key, routing non-core keys to Extras.
func (d *LeadData) Set(key, value string) {
	switch key {
	case FieldName:
		d.Name = value
	case FieldCompany:
		d.Company = value
	case FieldRole:
		d.Role = value
	case FieldChallenge:
		d.Challenge = value
	case FieldBudget:
		d.Budget = value
	case FieldUrgency:
		d.Urgency = value
	default:
		if d.Extras == nil {
			d.Extras = make(map[string]string)
		}
		d.Extras[key] = value
	}
}

// Merge applies incoming values on top of d. Blank values never erase a
// known attribute.
func (d LeadData) Merge(incoming map[string]string) LeadData {
	out := d.Clone()
	for key, value := range incoming {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out.Set(key, value)
	}
	return out
}

// Clone returns a deep copy.
func (d LeadData) Clone() LeadData {
	out := d
	if d.Extras != nil {
		out.Extras = make(map[string]string, len(d.Extras))
		for k, v := range d.Extras {
			out.Extras[k] = v
		}
	}
	return out
}

// Map flattens the data into a key/value map without blank entries.
func (d LeadData) Map() map[string]string {
	out := make(map[string]string, len(CoreFields)+len(d.Extras))
	for k, v := range d.Extras {
		if v != "" {
			out[k] = v
		}
	}
	for _, key := range CoreFields {
		if v := d.Get(key); v != "" {
			out[key] = v
		}
	}
	return out
}

// Keys returns known keys with core fields first, then extras sorted.
func (d LeadData) Keys() []string {
	keys := make([]string, 0, len(CoreFields)+len(d.Extras))
	for _, key := range CoreFields {
		if d.Get(key) != "" {
			keys = append(keys, key)
		}
	}
	extras := make([]string, 0, len(d.Extras))
	for k, v := range d.Extras {
		if v != "" && !isCoreField(k) {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	return append(keys, extras...)
}

// IsEmpty reports whether nothing is known yet.
func (d LeadData) IsEmpty() bool {
	return len(d.Keys()) == 0
}

// LeadDataFromMap builds LeadData from a flat map.
func LeadDataFromMap(m map[string]string) LeadData {
	return LeadData{}.Merge(m)
}

// MarshalJSON encodes the data as a flat object.
func (d LeadData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// UnmarshalJSON decodes a flat object. Non-string scalars are kept as text.
func (d *LeadData) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			values[k] = val
		case nil:
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				return err
			}
			values[k] = string(encoded)
		}
	}
	*d = LeadDataFromMap(values)
	return nil
}

func isCoreField(key string) bool {
	for _, f := range CoreFields {
		if f == key {
			return true
		}
	}
	return false
}

// Message is one immutable turn in a conversation.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	TokensUsed     int               `json:"tokens_used,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Conversation is the durable memory of one (tenant, phone) pair.
type Conversation struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Phone         string    `json:"phone"`
	DisplayName   string    `json:"display_name,omitempty"`
	LeadData      LeadData  `json:"lead_data"`
	Status        Status    `json:"status"`
	MessageCount  int       `json:"message_count"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// ConversationView is what the engine reads before a turn. An unseen phone
// yields Exists=false with empty data instead of an error.
type ConversationView struct {
	Exists         bool      `json:"exists"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TenantID       string    `json:"tenant_id"`
	Phone          string    `json:"phone"`
	DisplayName    string    `json:"display_name,omitempty"`
	LeadData       LeadData  `json:"lead_data"`
	Status         Status    `json:"status"`
	History        []Message `json:"history"`
	MessageCount   int       `json:"message_count"`
	Version        int64     `json:"version"`
}

// RecentUserMessages returns the content of the last n user turns, oldest first.
func (v ConversationView) RecentUserMessages(n int) []string {
	var out []string
	for i := len(v.History) - 1; i >= 0 && len(out) < n; i-- {
		if v.History[i].Role == RoleUser {
			out = append(out, v.History[i].Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Snapshot is the lead state handed to fan-out sinks.
type Snapshot struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Phone          string    `json:"phone"`
	DisplayName    string    `json:"display_name,omitempty"`
	Data           LeadData  `json:"lead_data"`
	Status         Status    `json:"status"`
	MessageCount   int       `json:"message_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasIdentity reports whether the lead is known well enough to sync anywhere.
func (s Snapshot) HasIdentity() bool {
	return strings.TrimSpace(s.Data.Name) != ""
}

// NormalizePhone reduces a phone or WhatsApp JID to its digits.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	if colon := strings.IndexByte(raw, ':'); colon >= 0 {
		raw = raw[:colon]
	}
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
