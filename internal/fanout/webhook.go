package fanout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-SDR-Signature"

// WebhookSink posts the lead snapshot as JSON to an agency endpoint.
type WebhookSink struct {
	client *http.Client
	url    string
	secret string
	auth   string
}

// NewWebhookFactory builds webhook sinks. Settings: url, optional secret and authorization.
func NewWebhookFactory(client *http.Client) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		target, err := requireSetting(cfg, "url")
		if err != nil {
			return nil, err
		}
		return &WebhookSink{
			client: client,
			url:    target,
			secret: cfg.Setting("secret"),
			auth:   cfg.Setting("authorization"),
		}, nil
	}
}

func (s *WebhookSink) Name() string { return SinkWebhook }

// WebhookPayload is the body agencies receive.
type WebhookPayload struct {
	Event          string            `json:"event"`
	JobID          string            `json:"job_id"`
	Reason         string            `json:"reason"`
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	Phone          string            `json:"phone"`
	DisplayName    string            `json:"display_name,omitempty"`
	Status         string            `json:"status"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	LeadData       map[string]string `json:"lead_data"`
	MessageCount   int               `json:"message_count"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Origin         string            `json:"origin"`
}

func newWebhookPayload(job Job) WebhookPayload {
	snap := job.Snapshot
	return WebhookPayload{
		Event:          "lead.sync",
		JobID:          job.ID,
		Reason:         job.Reason,
		TenantID:       snap.TenantID,
		ConversationID: snap.ConversationID,
		Phone:          snap.Phone,
		DisplayName:    snap.DisplayName,
		Status:         string(snap.Status),
		PreviousStatus: string(job.PreviousStatus),
		LeadData:       snap.Data.Map(),
		MessageCount:   snap.MessageCount,
		UpdatedAt:      snap.UpdatedAt,
		Origin:         leadOrigin,
	}
}

// Sign returns the signature agencies verify against SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSink) Send(ctx context.Context, job Job) SinkResult {
	payload := newWebhookPayload(job)
	headers := map[string]string{}
	if s.auth != "" {
		headers["Authorization"] = s.auth
	}
	if s.secret != "" {
		body, err := json.Marshal(payload)
		if err != nil {
			return failure(fmt.Errorf("webhook: marshal payload: %w", err), "")
		}
		headers[SignatureHeader] = Sign(s.secret, body)
	}
	resp, err := postJSON(ctx, s.client, s.url, headers, payload)
	if err != nil {
		return failure(err, "")
	}
	if resp.status < 200 || resp.status >= 300 {
		return failure(fmt.Errorf("webhook: unexpected status %d", resp.status), resp.summary())
	}
	return success(resp.summary())
}
