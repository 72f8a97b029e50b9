// Package tenancy resolves the agency that owns an inbound WhatsApp message
// and tracks its usage budget.
package tenancy

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Persona configures the voice of a tenant's SDR agent.
type Persona struct {
	SystemPrompt           string   `json:"system_prompt,omitempty"`
	AgentName              string   `json:"agent_name,omitempty"`
	Personality            string   `json:"personality,omitempty"`
	WelcomeMessage         string   `json:"welcome_message,omitempty"`
	ClosingMessage         string   `json:"closing_message,omitempty"`
	QualificationQuestions []string `json:"qualification_questions,omitempty"`
	QualificationCriteria  string   `json:"qualification_criteria,omitempty"`
}

// IsCustom reports whether the tenant configured anything beyond the generic persona.
func (p Persona) IsCustom() bool {
	if strings.TrimSpace(p.SystemPrompt) != "" ||
		strings.TrimSpace(p.AgentName) != "" ||
		strings.TrimSpace(p.Personality) != "" ||
		strings.TrimSpace(p.QualificationCriteria) != "" ||
		strings.TrimSpace(p.ClosingMessage) != "" {
		return true
	}
	for _, q := range p.QualificationQuestions {
		if strings.TrimSpace(q) != "" {
			return true
		}
	}
	return false
}

// SinkConfig describes one fan-out destination enabled for a tenant.
// Settings carries sink specific values (api keys, spreadsheet ids, recipients).
type SinkConfig struct {
	Type     string            `json:"type"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings,omitempty"`
}

// Setting returns a trimmed setting value.
func (s SinkConfig) Setting(key string) string {
	if s.Settings == nil {
		return ""
	}
	return strings.TrimSpace(s.Settings[key])
}

// Tenant is a client agency running its own SDR persona.
type Tenant struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	RoutingKey         string       `json:"routing_key"`
	Status             Status       `json:"status"`
	Persona            Persona      `json:"persona"`
	MonthlyTokenBudget int64        `json:"monthly_token_budget"`
	CapacityReply      string       `json:"capacity_reply,omitempty"`
	Sinks              []SinkConfig `json:"sinks,omitempty"`
}

// WithoutSinkSettings returns a copy whose sinks keep their type and enabled
// flag but drop their settings.
func (t *Tenant) WithoutSinkSettings() *Tenant {
	if t == nil {
		return nil
	}
	dup := *t
	if len(t.Sinks) > 0 {
		dup.Sinks = make([]SinkConfig, len(t.Sinks))
		for i, sink := range t.Sinks {
			dup.Sinks[i] = SinkConfig{Type: sink.Type, Enabled: sink.Enabled}
		}
	}
	return &dup
}

// Active reports whether the tenant may hold conversations.
func (t *Tenant) Active() bool {
	return t != nil && t.Status == StatusActive
}

// Validate checks the fields the conversation engine depends on.
func (t *Tenant) Validate() error {
	if t == nil {
		return ErrInvalidTenant
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTenant)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required for tenant %s", ErrInvalidTenant, t.ID)
	}
	return nil
}

// EnabledSinks returns the sink configurations switched on for the tenant.
func (t *Tenant) EnabledSinks() []SinkConfig {
	if t == nil {
		return nil
	}
	out := make([]SinkConfig, 0, len(t.Sinks))
	for _, s := range t.Sinks {
		if s.Enabled && strings.TrimSpace(s.Type) != "" {
			out = append(out, s)
		}
	}
	return out
}
