package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope("tenant-1", "conv-1", LeadEventV1{
		Type:           TypeLeadQualified,
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Phone:          "5511999990000",
		LeadData:       map[string]string{"name": "Ana"},
		Status:         "qualified",
		PreviousStatus: "in_progress",
		OccurredAt:     fixedNow,
	}, WithEventID(id), WithCorrelationID(" job-7 "))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != TypeLeadQualified {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.Aggregate != "conv-1" || env.TenantID != "tenant-1" || env.CorrelationID != "job-7" {
		t.Fatalf("unexpected envelope: %#v", env)
	}
	if env.Producer != producerName {
		t.Fatalf("unexpected producer: %s", env.Producer)
	}

	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["status"] != "qualified" || payload["phone"] != "5511999990000" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["Type"]; ok {
		t.Fatalf("type must not leak into payload")
	}
}

func TestNewEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("t", "", LeadEventV1{}); err == nil {
		t.Fatalf("expected aggregate error")
	}
	if _, err := NewEnvelope("t", "conv", nil); err == nil {
		t.Fatalf("expected nil event error")
	}
	if _, err := NewEnvelope("t", "conv", badEvent{}); err == nil {
		t.Fatalf("expected missing type error")
	}
}

func TestWithTimestampIgnoresZero(t *testing.T) {
	env, err := NewEnvelope("t", "conv", LeadEventV1{}, WithTimestamp(time.Time{}))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.TimestampMicros == 0 {
		t.Fatalf("expected default timestamp to survive a zero override")
	}
}

func TestLeadEventType(t *testing.T) {
	cases := []struct {
		status, previous, want string
	}{
		{"qualified", "in_progress", TypeLeadQualified},
		{"qualified", "qualified", TypeLeadUpdated},
		{"scheduled", "qualified", TypeLeadScheduled},
		{"lost", "qualified", TypeLeadUpdated},
		{"in_progress", "new", TypeLeadUpdated},
	}
	for _, c := range cases {
		if got := LeadEventType(c.status, c.previous); got != c.want {
			t.Fatalf("LeadEventType(%s, %s) = %s, want %s", c.status, c.previous, got, c.want)
		}
	}
	if (LeadEventV1{}).EventType() != TypeLeadUpdated {
		t.Fatalf("expected default event type")
	}
}
