// Package handlers holds the HTTP handlers of the SDR service.
package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/sdr-agent-platform/internal/conversation"
	"github.com/wolfman30/sdr-agent-platform/internal/messaging/evolution"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

const (
	maxWebhookBody     = 1 << 20
	webhookTokenHeader = "X-Webhook-Token"
)

// InboundHandler runs one conversation turn.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in conversation.Inbound) (conversation.Result, error)
}

// EvolutionWebhookHandler turns Evolution API webhooks into conversation turns.
type EvolutionWebhookHandler struct {
	engine InboundHandler
	token  string
	logger *logging.Logger
}

// NewEvolutionWebhookHandler creates the handler. When token is set, requests
// must carry it in X-Webhook-Token or the token query parameter.
func NewEvolutionWebhookHandler(engine InboundHandler, token string, logger *logging.Logger) *EvolutionWebhookHandler {
	if engine == nil {
		panic("handlers: conversation engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EvolutionWebhookHandler{engine: engine, token: token, logger: logger}
}

// WebhookResponse is the body returned to the gateway.
type WebhookResponse struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	LeadStatus     string `json:"lead_status,omitempty"`
	Persisted      *bool  `json:"persisted,omitempty"`
}

func (h *EvolutionWebhookHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := r.Header.Get(webhookTokenHeader)
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// Handle processes POST /webhooks/evolution.
func (h *EvolutionWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	parsed, err := evolution.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("evolution webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if parsed.Ignored {
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", Reason: parsed.Reason})
		return
	}

	msg := parsed.Message
	result, err := h.engine.HandleInbound(r.Context(), conversation.Inbound{
		RoutingKey:  msg.Instance,
		Phone:       msg.Phone,
		DisplayName: msg.DisplayName,
		Text:        msg.Text,
		MessageID:   msg.MessageID,
		ReceivedAt:  msg.SentAt,
	})
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("evolution webhook failed", "instance", msg.Instance, "message_id", msg.MessageID, "status", status, "error", err)
		} else {
			h.logger.Warn("evolution webhook refused", "instance", msg.Instance, "status", status, "error", err)
		}
		writeError(w, status, http.StatusText(status))
		return
	}

	resp := WebhookResponse{
		Status:         string(result.Outcome),
		ConversationID: result.ConversationID,
		LeadStatus:     string(result.Status),
	}
	if result.Outcome == conversation.OutcomeReplied {
		persisted := result.Persisted
		resp.Persisted = &persisted
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, conversation.ErrInvalidInbound):
		return http.StatusBadRequest
	case errors.Is(err, tenancy.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenancy.ErrTenantInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conversation.ErrGateway), errors.Is(err, conversation.ErrReplyDelivery):
		return http.StatusBadGateway
	case errors.Is(err, conversation.ErrConversationBusy):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
