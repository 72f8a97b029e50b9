package fanout

import (
	"context"
	"fmt"

	"github.com/wolfman30/sdr-agent-platform/internal/events"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

// EventPublisher publishes envelopes on the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// EventSink publishes lead.updated, lead.qualified or lead.scheduled.
type EventSink struct {
	publisher EventPublisher
}

// NewEventFactory builds event sinks. There are no per-tenant settings.
func NewEventFactory(publisher EventPublisher) Factory {
	return func(_ *tenancy.Tenant, _ tenancy.SinkConfig) (Sink, error) {
		return &EventSink{publisher: publisher}, nil
	}
}

func (s *EventSink) Name() string { return SinkEvents }

// LeadEvent maps a job onto the published payload.
func LeadEvent(job Job) events.LeadEventV1 {
	snap := job.Snapshot
	return events.LeadEventV1{
		Type:           events.LeadEventType(string(snap.Status), string(job.PreviousStatus)),
		TenantID:       snap.TenantID,
		ConversationID: snap.ConversationID,
		Phone:          snap.Phone,
		DisplayName:    snap.DisplayName,
		LeadData:       snap.Data.Map(),
		Status:         string(snap.Status),
		PreviousStatus: string(job.PreviousStatus),
		MessageCount:   snap.MessageCount,
		OccurredAt:     snap.UpdatedAt,
	}
}

func (s *EventSink) Send(ctx context.Context, job Job) SinkResult {
	evt := LeadEvent(job)
	env, err := events.NewEnvelope(job.Snapshot.TenantID, job.Snapshot.ConversationID, evt,
		events.WithCorrelationID(job.ID),
		events.WithTimestamp(job.CreatedAt),
	)
	if err != nil {
		return failure(fmt.Errorf("events: build envelope: %w", err), "")
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		return failure(err, "")
	}
	return success(fmt.Sprintf("published %s %s", env.EventType, env.EventID))
}
