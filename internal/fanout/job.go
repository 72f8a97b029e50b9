package fanout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/sdr-agent-platform/internal/leads"
)

// Job reasons.
const (
	ReasonTurn      = "turn"
	ReasonScheduled = "scheduled"
)

// Job is one request to push a lead snapshot to every enabled sink of its tenant.
type Job struct {
	ID             string         `json:"id"`
	Reason         string         `json:"reason"`
	Snapshot       leads.Snapshot `json:"snapshot"`
	PreviousStatus leads.Status   `json:"previous_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewJob stamps a job with an id and creation time.
func NewJob(reason string, snapshot leads.Snapshot, previous leads.Status) Job {
	return Job{
		ID:             uuid.NewString(),
		Reason:         reason,
		Snapshot:       snapshot,
		PreviousStatus: previous,
		CreatedAt:      time.Now().UTC(),
	}
}

// StatusChanged reports whether this job carries a fresh transition into its status.
func (j Job) StatusChanged() bool {
	return j.Snapshot.Status != j.PreviousStatus
}

// Enqueuer accepts jobs for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}
