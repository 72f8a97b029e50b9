package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/sdr-agent-platform/internal/conversation"
	"github.com/wolfman30/sdr-agent-platform/internal/fanout"
	"github.com/wolfman30/sdr-agent-platform/internal/http/middleware"
	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// ConversationReader loads the conversation of one lead.
type ConversationReader interface {
	GetConversation(ctx context.Context, tenantID, phone string) (leads.ConversationView, error)
}

// Scheduler marks a lead as having booked a meeting.
type Scheduler interface {
	MarkScheduled(ctx context.Context, tenantID, phone string) (leads.Conversation, error)
}

// SyncLogLister lists a tenant's fan-out audit rows.
type SyncLogLister interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]fanout.SyncLogEntry, error)
}

// TenantCache drops cached tenant config after it was edited in the database.
type TenantCache interface {
	Get(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	Invalidate(ctx context.Context, t *tenancy.Tenant) error
}

// AdminConversationsHandler serves the operator API under /admin/tenants/{tenantID}.
type AdminConversationsHandler struct {
	conversations ConversationReader
	scheduler     Scheduler
	syncLogs      SyncLogLister
	tenantCache   TenantCache
	logger        *logging.Logger
}

// AdminOption customizes an AdminConversationsHandler.
type AdminOption func(*AdminConversationsHandler)

// WithTenantCache enables the cache invalidation route.
func WithTenantCache(cache TenantCache) AdminOption {
	return func(h *AdminConversationsHandler) {
		h.tenantCache = cache
	}
}

// NewAdminConversationsHandler creates the handler. syncLogs may be nil, in
// which case the sync-logs route answers 503.
func NewAdminConversationsHandler(conversations ConversationReader, scheduler Scheduler, syncLogs SyncLogLister, logger *logging.Logger, opts ...AdminOption) *AdminConversationsHandler {
	if conversations == nil || scheduler == nil {
		panic("handlers: conversation reader and scheduler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &AdminConversationsHandler{
		conversations: conversations,
		scheduler:     scheduler,
		syncLogs:      syncLogs,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the admin endpoints on r.
func (h *AdminConversationsHandler) Routes(r chi.Router) {
	r.Route("/tenants/{tenantID}", func(tr chi.Router) {
		tr.Use(requireTenantScope)
		tr.Get("/conversations/{phone}", h.GetConversation)
		tr.Post("/conversations/{phone}/scheduled", h.MarkScheduled)
		tr.Get("/sync-logs", h.ListSyncLogs)
		tr.Post("/cache/invalidate", h.InvalidateTenantCache)
	})
}

// requireTenantScope checks the token against the path tenant and pins the
// tenant id on the request context for the handlers below it.
func requireTenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		claims, ok := middleware.AdminClaimsFromContext(r.Context())
		if !ok || !claims.CanAccess(tenantID) {
			writeError(w, http.StatusForbidden, "tenant not accessible with this token")
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), tenantID)))
	})
}

func scopedTenantID(r *http.Request) string {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	return tenantID
}

// GetConversation returns the lead data, status and recent history.
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	tenantID := scopedTenantID(r)
	phone := leads.NormalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "invalid phone")
		return
	}
	view, err := h.conversations.GetConversation(r.Context(), tenantID, phone)
	if err != nil {
		h.logger.Error("admin: load conversation failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !view.Exists {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// MarkScheduled flips the lead to scheduled and triggers the fan-out.
func (h *AdminConversationsHandler) MarkScheduled(w http.ResponseWriter, r *http.Request) {
	tenantID := scopedTenantID(r)
	conv, err := h.scheduler.MarkScheduled(r.Context(), tenantID, chi.URLParam(r, "phone"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, leads.ErrInvalidPhone):
			status = http.StatusBadRequest
		case errors.Is(err, leads.ErrConversationNotFound), errors.Is(err, tenancy.ErrTenantNotFound):
			status = http.StatusNotFound
		case errors.Is(err, tenancy.ErrTenantInactive):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, conversation.ErrConversationBusy):
			status = http.StatusServiceUnavailable
		default:
			h.logger.Error("admin: mark scheduled failed", "tenant_id", tenantID, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListSyncLogs returns the newest fan-out rows; ?limit= caps the count.
func (h *AdminConversationsHandler) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	if h.syncLogs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync log not configured")
		return
	}
	tenantID := scopedTenantID(r)
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.syncLogs.ListByTenant(r.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error("admin: list sync logs failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sync logs")
		return
	}
	if entries == nil {
		entries = []fanout.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "entries": entries})
}

// InvalidateTenantCache drops the cached tenant so the next message reads the
// current persona and sinks from the database.
func (h *AdminConversationsHandler) InvalidateTenantCache(w http.ResponseWriter, r *http.Request) {
	if h.tenantCache == nil {
		writeError(w, http.StatusServiceUnavailable, "tenant cache not configured")
		return
	}
	tenantID := scopedTenantID(r)
	tenant, err := h.tenantCache.Get(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		h.logger.Error("admin: load tenant failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	if err := h.tenantCache.Invalidate(r.Context(), tenant); err != nil {
		h.logger.Error("admin: invalidate tenant cache failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to invalidate tenant cache")
		return
	}
	h.logger.Info("admin: tenant cache invalidated", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "invalidated": true})
}
