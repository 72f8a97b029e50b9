package fanout

import (
	"context"

	"github.com/wolfman30/sdr-agent-platform/internal/archive"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

// SnapshotArchiver stores snapshot records.
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, record *archive.SnapshotRecord) (string, error)
}

// ArchiveSink keeps an S3 copy of every snapshot pushed for the tenant.
type ArchiveSink struct {
	store  SnapshotArchiver
	redact bool
}

// NewArchiveFactory builds archive sinks. Setting: optional redact=true.
func NewArchiveFactory(store SnapshotArchiver) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		return &ArchiveSink{store: store, redact: cfg.Setting("redact") == "true"}, nil
	}
}

func (s *ArchiveSink) Name() string { return SinkArchive }

func (s *ArchiveSink) Send(ctx context.Context, job Job) SinkResult {
	snap := job.Snapshot
	record := &archive.SnapshotRecord{
		JobID:          job.ID,
		Reason:         job.Reason,
		TenantID:       snap.TenantID,
		ConversationID: snap.ConversationID,
		Phone:          snap.Phone,
		PhoneHash:      archive.HashPhone(snap.Phone),
		DisplayName:    snap.DisplayName,
		LeadData:       snap.Data.Map(),
		Status:         string(snap.Status),
		PreviousStatus: string(job.PreviousStatus),
		MessageCount:   snap.MessageCount,
	}
	if s.redact {
		record.Redact()
	}
	key, err := s.store.ArchiveSnapshot(ctx, record)
	if err != nil {
		return failure(err, "")
	}
	if key == "" {
		return skipped("archive disabled")
	}
	return success(key)
}
