package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sdr-agent-platform/internal/conversation"
	"github.com/wolfman30/sdr-agent-platform/internal/fanout"
	"github.com/wolfman30/sdr-agent-platform/internal/http/middleware"
	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

type fakeScheduler struct {
	conv  leads.Conversation
	err   error
	calls []string
}

func (f *fakeScheduler) MarkScheduled(_ context.Context, tenantID, phone string) (leads.Conversation, error) {
	f.calls = append(f.calls, tenantID+"/"+phone)
	return f.conv, f.err
}

type fakeSyncLogs struct {
	entries   []fanout.SyncLogEntry
	err       error
	lastLimit int
}

func (f *fakeSyncLogs) ListByTenant(_ context.Context, _ string, limit int) ([]fanout.SyncLogEntry, error) {
	f.lastLimit = limit
	return f.entries, f.err
}

func newAdminRouter(h *AdminConversationsHandler, claims *middleware.AdminClaims) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if claims != nil {
				req = req.WithContext(middleware.WithAdminClaims(req.Context(), *claims))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/admin", h.Routes)
	return r
}

func seededStore(t *testing.T) *leads.MemoryStore {
	t.Helper()
	store := leads.NewMemoryStore(10)
	_, err := store.AppendTurn(context.Background(), leads.Turn{
		TenantID:      "tenant-1",
		Phone:         "5511999990000",
		DisplayName:   "Ana",
		UserText:      "Oi",
		AssistantText: "Olá! Como posso ajudar?",
		LeadData:      leads.LeadDataFromMap(map[string]string{leads.FieldName: "Ana"}),
		Status:        leads.StatusInProgress,
		At:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return store
}

func TestAdminGetConversation(t *testing.T) {
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, nil, logging.Discard())
	router := newAdminRouter(h, &middleware.AdminClaims{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/conversations/5511999990000", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view leads.ConversationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.True(t, view.Exists)
	assert.Equal(t, "Ana", view.LeadData.Name)
	assert.Len(t, view.History, 2)
}

func TestAdminGetConversationNotFound(t *testing.T) {
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, nil, logging.Discard())
	router := newAdminRouter(h, &middleware.AdminClaims{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/conversations/5511000000000", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminTenantScope(t *testing.T) {
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, &fakeSyncLogs{}, logging.Discard())

	scoped := newAdminRouter(h, &middleware.AdminClaims{TenantID: "tenant-2"})
	w := httptest.NewRecorder()
	scoped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/conversations/5511999990000", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	anonymous := newAdminRouter(h, nil)
	w = httptest.NewRecorder()
	anonymous.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/sync-logs", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	own := newAdminRouter(h, &middleware.AdminClaims{TenantID: "tenant-1"})
	w = httptest.NewRecorder()
	own.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/sync-logs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminMarkScheduled(t *testing.T) {
	scheduler := &fakeScheduler{conv: leads.Conversation{ID: "conv-1", TenantID: "tenant-1", Status: leads.StatusScheduled}}
	h := NewAdminConversationsHandler(seededStore(t), scheduler, nil, logging.Discard())
	router := newAdminRouter(h, &middleware.AdminClaims{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/conversations/5511999990000/scheduled", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"tenant-1/5511999990000"}, scheduler.calls)
	var conv leads.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, leads.StatusScheduled, conv.Status)
}

func TestAdminMarkScheduledErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{leads.ErrInvalidPhone, http.StatusBadRequest},
		{fmt.Errorf("store: %w", leads.ErrConversationNotFound), http.StatusNotFound},
		{tenancy.ErrTenantNotFound, http.StatusNotFound},
		{tenancy.ErrTenantInactive, http.StatusUnprocessableEntity},
		{conversation.ErrConversationBusy, http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{err: tc.err}, nil, logging.Discard())
		router := newAdminRouter(h, &middleware.AdminClaims{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/conversations/5511999990000/scheduled", nil))
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}

func TestAdminListSyncLogs(t *testing.T) {
	logs := &fakeSyncLogs{entries: []fanout.SyncLogEntry{{ID: "log-1", TenantID: "tenant-1", Sink: fanout.SinkWebhook, Status: fanout.StatusSuccess}}}
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, logs, logging.Discard())
	router := newAdminRouter(h, &middleware.AdminClaims{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/sync-logs?limit=20", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, logs.lastLimit)
	var body struct {
		TenantID string                `json:"tenant_id"`
		Entries  []fanout.SyncLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tenant-1", body.TenantID)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "log-1", body.Entries[0].ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/sync-logs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminListSyncLogsDisabled(t *testing.T) {
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, nil, logging.Discard())
	router := newAdminRouter(h, &middleware.AdminClaims{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/sync-logs", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type mutableTenantRepo struct {
	tenants map[string]*tenancy.Tenant
}

func (r *mutableTenantRepo) GetByRoutingKey(_ context.Context, key string) (*tenancy.Tenant, error) {
	for _, t := range r.tenants {
		if t.RoutingKey == key {
			dup := *t
			return &dup, nil
		}
	}
	return nil, tenancy.ErrTenantNotFound
}

func (r *mutableTenantRepo) GetByID(_ context.Context, id string) (*tenancy.Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, tenancy.ErrTenantNotFound
	}
	dup := *t
	return &dup, nil
}

func TestAdminInvalidateTenantCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := &mutableTenantRepo{tenants: map[string]*tenancy.Tenant{
		"tenant-1": {ID: "tenant-1", Name: "Acme", RoutingKey: "acme", Status: tenancy.StatusActive},
	}}
	resolver := tenancy.NewCachedResolver(repo, rdb, logging.Discard())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "acme")
	require.NoError(t, err)
	repo.tenants["tenant-1"].Name = "Acme Growth"
	cached, err := resolver.Resolve(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, "Acme", cached.Name)

	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, nil, logging.Discard(), WithTenantCache(resolver))
	router := newAdminRouter(h, &middleware.AdminClaims{TenantID: "tenant-1"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/cache/invalidate", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"tenant_id":"tenant-1","invalidated":true}`, w.Body.String())

	fresh, err := resolver.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Growth", fresh.Name)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-2/cache/invalidate", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminInvalidateTenantCacheErrors(t *testing.T) {
	router := newAdminRouter(NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, nil, logging.Discard()), &middleware.AdminClaims{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resolver := tenancy.NewCachedResolver(&mutableTenantRepo{tenants: map[string]*tenancy.Tenant{}}, nil, logging.Discard())
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, nil, logging.Discard(), WithTenantCache(resolver))
	w = httptest.NewRecorder()
	newAdminRouter(h, &middleware.AdminClaims{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/tenants/ghost/cache/invalidate", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandlersReadScopedTenant(t *testing.T) {
	logs := &fakeSyncLogs{}
	h := NewAdminConversationsHandler(seededStore(t), &fakeScheduler{}, logs, logging.Discard())
	router := newAdminRouter(h, &middleware.AdminClaims{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-9/sync-logs", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenant_id":"tenant-9","entries":[]}`, w.Body.String())
}
