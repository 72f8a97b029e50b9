package archive

import "time"

const recordVersion = "1"

// SnapshotRecord is one archived lead snapshot, written as a JSON object per fan-out job.
type SnapshotRecord struct {
	Version        string            `json:"version"`
	JobID          string            `json:"job_id"`
	Reason         string            `json:"reason"`
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	Phone          string            `json:"phone,omitempty"`
	PhoneHash      string            `json:"phone_hash"`
	DisplayName    string            `json:"display_name,omitempty"`
	LeadData       map[string]string `json:"lead_data"`
	Status         string            `json:"status"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	MessageCount   int               `json:"message_count"`
	Redacted       bool              `json:"redacted"`
	ArchivedAt     time.Time         `json:"archived_at"`
}

// ManifestEntry is one line of the per-tenant monthly JSONL index.
type ManifestEntry struct {
	JobID          string `json:"job_id"`
	ConversationID string `json:"conversation_id"`
	S3Key          string `json:"s3_key"`
	Status         string `json:"status"`
	ArchivedAt     string `json:"archived_at"`
}
