package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/sdr-agent-platform/internal/fanout"
	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/internal/observability/metrics"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

var engineTracer = otel.Tracer("sdr.internal.conversation")

const (
	defaultPersistAttempts  = 3
	defaultLLMTimeout       = 30 * time.Second
	defaultMaxTokens        = 800
	defaultTemperature      = 0.4
	persistTimeout          = 10 * time.Second
	defaultCapacityReply    = "Thanks for reaching out! Our team is at capacity right now and will get back to you shortly."
	emptyInboundPlaceholder = "(the lead sent a message without readable text)"
)

// Outcome describes how an inbound message was handled.
type Outcome string

const (
	OutcomeReplied   Outcome = "replied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCapacity  Outcome = "capacity"
)

// Inbound is one text message from a lead, already decoded from the transport.
type Inbound struct {
	// RoutingKey identifies the tenant; for Evolution it is the instance name.
	RoutingKey  string
	Phone       string
	DisplayName string
	Text        string
	// MessageID is the transport message id used for deduplication. Optional.
	MessageID  string
	ReceivedAt time.Time
}

// Result reports what HandleInbound did.
type Result struct {
	Outcome        Outcome
	TenantID       string
	ConversationID string
	Phone          string
	Reply          string
	Status         leads.Status
	PreviousStatus leads.Status
	LeadData       leads.LeadData
	ParseKind      ParseKind
	TokensUsed     int
	// Persisted is false when the reply went out but the turn could not be stored.
	Persisted bool
}

// TenantResolver maps routing keys and ids to active tenants.
type TenantResolver interface {
	Resolve(ctx context.Context, routingKey string) (*tenancy.Tenant, error)
	Get(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
}

// CapacityMeter tracks monthly token budgets.
type CapacityMeter interface {
	HasCapacity(ctx context.Context, t *tenancy.Tenant) (bool, error)
	Record(ctx context.Context, tenantID string, tokens int64) error
}

// ProcessedTracker remembers transport message ids that were already answered.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, tenantID, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, tenantID, messageID string) (bool, error)
}

// ReplySender delivers a text reply to the lead.
type ReplySender interface {
	SendText(ctx context.Context, routingKey, phone, text string) error
}

// EngineDeps are the collaborators of the engine. Resolver, Store, LLM and
// Sender are required; the rest degrade to no-ops.
type EngineDeps struct {
	Resolver  TenantResolver
	Store     leads.Store
	LLM       LLMClient
	Sender    ReplySender
	Locker    Locker
	Meter     CapacityMeter
	Processed ProcessedTracker
	Fanout    fanout.Enqueuer
	Evaluator *leads.Evaluator
	Parser    *Parser
	Metrics   *metrics.ConversationMetrics
	Logger    *logging.Logger
}

// EngineOption tunes the engine.
type EngineOption func(*Engine)

// WithModel sets the model id passed to the gateway.
func WithModel(model string) EngineOption {
	return func(e *Engine) { e.model = strings.TrimSpace(model) }
}

// WithGeneration sets output token and temperature limits.
func WithGeneration(maxTokens int, temperature float64) EngineOption {
	return func(e *Engine) {
		if maxTokens > 0 {
			e.maxTokens = int32(maxTokens)
		}
		if temperature >= 0 {
			e.temperature = float32(temperature)
		}
	}
}

// WithLLMTimeout bounds each gateway call.
func WithLLMTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.llmTimeout = timeout
		}
	}
}

// WithPersistAttempts bounds version-conflict retries when storing a turn.
func WithPersistAttempts(attempts int) EngineOption {
	return func(e *Engine) {
		if attempts > 0 {
			e.persistAttempts = attempts
		}
	}
}

// WithCapacityReply sets the reply sent when a tenant has no budget left and
// the tenant has no reply of its own.
func WithCapacityReply(reply string) EngineOption {
	return func(e *Engine) {
		if reply = strings.TrimSpace(reply); reply != "" {
			e.capacityReply = reply
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs one conversational turn per inbound message.
type Engine struct {
	resolver  TenantResolver
	store     leads.Store
	llm       LLMClient
	sender    ReplySender
	locker    Locker
	meter     CapacityMeter
	processed ProcessedTracker
	fanout    fanout.Enqueuer
	evaluator *leads.Evaluator
	parser    *Parser
	composer  Composer
	metrics   *metrics.ConversationMetrics
	logger    *logging.Logger

	model           string
	maxTokens       int32
	temperature     float32
	llmTimeout      time.Duration
	persistAttempts int
	capacityReply   string
	now             func() time.Time
}

// NewEngine wires an engine. It panics when a required dependency is missing.
func NewEngine(deps EngineDeps, opts ...EngineOption) *Engine {
	if deps.Resolver == nil {
		panic("conversation: tenant resolver required")
	}
	if deps.Store == nil {
		panic("conversation: lead store required")
	}
	if deps.LLM == nil {
		panic("conversation: llm client cannot be nil")
	}
	if deps.Sender == nil {
		panic("conversation: reply sender required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Locker == nil {
		deps.Locker = noopLocker{}
	}
	if deps.Evaluator == nil {
		deps.Evaluator = leads.NewEvaluator(leads.DefaultQualificationRules())
	}
	if deps.Parser == nil {
		deps.Parser = NewParser("")
	}

	e := &Engine{
		resolver:        deps.Resolver,
		store:           deps.Store,
		llm:             deps.LLM,
		sender:          deps.Sender,
		locker:          deps.Locker,
		meter:           deps.Meter,
		processed:       deps.Processed,
		fanout:          deps.Fanout,
		evaluator:       deps.Evaluator,
		parser:          deps.Parser,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		maxTokens:       defaultMaxTokens,
		temperature:     defaultTemperature,
		llmTimeout:      defaultLLMTimeout,
		persistAttempts: defaultPersistAttempts,
		capacityReply:   defaultCapacityReply,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleInbound answers one lead message and records the turn.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) (Result, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()

	result, err := e.handleInbound(ctx, in)
	outcome := string(result.Outcome)
	if err != nil {
		outcome = errorOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(
		attribute.String("sdr.tenant_id", result.TenantID),
		attribute.String("sdr.outcome", outcome),
	)
	e.metrics.ObserveInbound(outcome)
	return result, err
}

func (e *Engine) handleInbound(ctx context.Context, in Inbound) (Result, error) {
	routingKey := strings.TrimSpace(in.RoutingKey)
	phone := leads.NormalizePhone(in.Phone)
	text := strings.TrimSpace(in.Text)
	if routingKey == "" || phone == "" || text == "" {
		return Result{}, ErrInvalidInbound
	}

	tenant, err := e.resolver.Resolve(ctx, routingKey)
	if err != nil {
		return Result{}, err
	}
	ctx = tenancy.WithTenantID(ctx, tenant.ID)
	result := Result{TenantID: tenant.ID, Phone: phone}
	log := e.logger.With("tenant_id", tenant.ID, "phone", phone)

	release, err := e.locker.Acquire(ctx, tenant.ID+":"+phone)
	if err != nil {
		return result, err
	}
	defer release()

	messageID := strings.TrimSpace(in.MessageID)
	if messageID != "" && e.processed != nil {
		seen, err := e.processed.AlreadyProcessed(ctx, tenant.ID, messageID)
		if err != nil {
			log.Warn("dedup check failed; handling message anyway", "message_id", messageID, "error", err)
		} else if seen {
			log.Info("duplicate inbound ignored", "message_id", messageID)
			result.Outcome = OutcomeDuplicate
			return result, nil
		}
	}

	view, err := e.store.GetConversation(ctx, tenant.ID, phone)
	if err != nil {
		return result, fmt.Errorf("conversation: load conversation: %w", err)
	}
	previous := view.Status
	if !view.Exists || previous == "" {
		previous = leads.StatusNew
	}
	result.ConversationID = view.ConversationID
	result.PreviousStatus = previous
	result.Status = previous
	result.LeadData = view.LeadData

	if e.meter != nil {
		ok, err := e.meter.HasCapacity(ctx, tenant)
		if err != nil {
			log.Warn("capacity check failed; continuing", "error", err)
		} else if !ok {
			reply := strings.TrimSpace(tenant.CapacityReply)
			if reply == "" {
				reply = e.capacityReply
			}
			if err := e.sender.SendText(ctx, routingKey, phone, reply); err != nil {
				return result, fmt.Errorf("%w: %w", ErrReplyDelivery, err)
			}
			log.Info("tenant over token budget; sent capacity reply")
			result.Outcome = OutcomeCapacity
			result.Reply = reply
			return result, nil
		}
	}

	guard := ScanInbound(text)
	if guard.Suspicious {
		log.Warn("suspicious inbound message", "score", guard.Score, "reasons", guard.Reasons)
	}
	promptText := guard.Sanitized
	if promptText == "" {
		promptText = emptyInboundPlaceholder
	}
	prompt := e.composer.Compose(PromptInput{
		TenantName:      tenant.Name,
		Persona:         tenant.Persona,
		Known:           view.LeadData,
		History:         view.History,
		LeadDisplayName: in.DisplayName,
		Inbound:         promptText,
	})

	resp, err := e.complete(ctx, prompt)
	if err != nil {
		log.Error("completion failed", "error", err)
		return result, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	tokens := int(resp.Usage.Total())
	result.TokensUsed = tokens
	if e.meter != nil && tokens > 0 {
		if err := e.meter.Record(ctx, tenant.ID, int64(tokens)); err != nil {
			log.Warn("failed to record token usage", "tokens", tokens, "error", err)
		}
	}
	e.metrics.AddTokens(tenant.ID, tokens)

	parsed := e.parser.Parse(resp.Text)
	if parsed.Kind == ParseDegraded {
		log.Warn("completion had no usable lead data", "stop_reason", resp.StopReason)
	}
	merged := view.LeadData.Merge(parsed.Fields)
	status := e.evaluate(view, merged, text)

	if err := e.sender.SendText(ctx, routingKey, phone, parsed.Reply); err != nil {
		log.Error("reply delivery failed", "error", err)
		return result, fmt.Errorf("%w: %w", ErrReplyDelivery, err)
	}
	result.Outcome = OutcomeReplied
	result.Reply = parsed.Reply
	result.ParseKind = parsed.Kind
	result.LeadData = merged
	result.Status = status

	// The reply is out; storing it must not depend on the caller still waiting.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if messageID != "" && e.processed != nil {
		if _, err := e.processed.MarkProcessed(persistCtx, tenant.ID, messageID); err != nil {
			log.Warn("failed to mark message processed", "message_id", messageID, "error", err)
		}
	}

	turn := leads.Turn{
		TenantID:        tenant.ID,
		Phone:           phone,
		DisplayName:     strings.TrimSpace(in.DisplayName),
		ExpectedVersion: view.Version,
		UserText:        text,
		UserMetadata:    userMetadata(messageID, guard),
		AssistantText:   parsed.Reply,
		AssistantTokens: tokens,
		AssistantMetadata: map[string]string{
			"parse_kind": string(parsed.Kind),
			"provider":   providerName(e.llm),
		},
		LeadData: merged,
		Status:   status,
		At:       e.now().UTC(),
	}
	stored, persisted, final := e.persistTurn(persistCtx, log, turn, view, parsed.Fields, text)
	result.Persisted = persisted
	if persisted {
		result.ConversationID = stored.ConversationID
	}
	result.PreviousStatus = final.previous
	result.Status = final.status
	result.LeadData = final.data
	e.metrics.ObserveStatusChange(string(final.previous), string(final.status))

	messageCount := view.MessageCount + 2
	if persisted {
		messageCount = stored.MessageCount
	}
	if final.data.Name != "" && e.fanout != nil {
		snapshot := leads.Snapshot{
			TenantID:       tenant.ID,
			ConversationID: result.ConversationID,
			Phone:          phone,
			DisplayName:    turn.DisplayName,
			Data:           final.data,
			Status:         final.status,
			MessageCount:   messageCount,
			UpdatedAt:      turn.At,
		}
		if err := e.fanout.Enqueue(persistCtx, fanout.NewJob(fanout.ReasonTurn, snapshot, final.previous)); err != nil {
			log.Error("failed to enqueue lead fan-out", "error", err)
		}
	}

	return result, nil
}

func (e *Engine) complete(ctx context.Context, prompt string) (LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	provider := providerName(e.llm)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("sdr.llm_provider", provider))
	start := time.Now()
	resp, err := e.llm.Complete(callCtx, LLMRequest{
		Model:       e.model,
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			status = "timeout"
			if !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
			}
		}
	}
	e.metrics.ObserveLLM(provider, status, time.Since(start).Seconds())
	return resp, err
}

func (e *Engine) evaluate(view leads.ConversationView, data leads.LeadData, inbound string) leads.Status {
	window := e.evaluator.Rules().LossWindow
	recent := append(view.RecentUserMessages(window), inbound)
	return e.evaluator.Evaluate(leads.EvalInput{
		Current:            view.Status,
		Data:               data,
		RecentUserMessages: recent,
		MessageCount:       view.MessageCount + 2,
	})
}

type turnState struct {
	previous leads.Status
	status   leads.Status
	data     leads.LeadData
}

// persistTurn stores the turn, re-reading and re-merging on version conflicts.
// Failures are logged and counted, never returned: the reply is already out.
func (e *Engine) persistTurn(ctx context.Context, log *logging.Logger, turn leads.Turn, view leads.ConversationView, fields map[string]string, inbound string) (leads.AppendResult, bool, turnState) {
	state := turnState{previous: statusOrNew(view), status: turn.Status, data: turn.LeadData}

	for attempt := 1; ; attempt++ {
		res, err := e.store.AppendTurn(ctx, turn)
		if err == nil {
			return res, true, state
		}
		if !errors.Is(err, leads.ErrVersionConflict) {
			log.Error("reply sent but turn not recorded", "error", err)
			e.metrics.ObservePersistFailure("reply_sent_not_recorded")
			return leads.AppendResult{}, false, state
		}
		if attempt >= e.persistAttempts {
			log.Error("reply sent but turn not recorded after version conflicts", "attempts", attempt)
			e.metrics.ObservePersistFailure("reply_sent_not_recorded")
			return leads.AppendResult{}, false, state
		}

		fresh, err := e.store.GetConversation(ctx, turn.TenantID, turn.Phone)
		if err != nil {
			log.Error("reply sent but turn not recorded; reload failed", "error", err)
			e.metrics.ObservePersistFailure("reply_sent_not_recorded")
			return leads.AppendResult{}, false, state
		}
		log.Info("version conflict storing turn; retrying", "attempt", attempt, "version", fresh.Version)

		state.previous = statusOrNew(fresh)
		state.data = fresh.LeadData.Merge(fields)
		state.status = e.evaluate(fresh, state.data, inbound)
		turn.ExpectedVersion = fresh.Version
		turn.LeadData = state.data
		turn.Status = state.status
	}
}

// MarkScheduled moves a lead to scheduled, for example after a meeting was
// booked outside the chat, and fans the change out.
func (e *Engine) MarkScheduled(ctx context.Context, tenantID, phone string) (leads.Conversation, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.mark_scheduled")
	defer span.End()

	phone = leads.NormalizePhone(phone)
	if phone == "" {
		return leads.Conversation{}, leads.ErrInvalidPhone
	}
	tenant, err := e.resolver.Get(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return leads.Conversation{}, err
	}
	span.SetAttributes(attribute.String("sdr.tenant_id", tenant.ID))
	ctx = tenancy.WithTenantID(ctx, tenant.ID)

	release, err := e.locker.Acquire(ctx, tenant.ID+":"+phone)
	if err != nil {
		return leads.Conversation{}, err
	}
	defer release()

	conv, previous, err := e.store.SetStatus(ctx, tenant.ID, phone, leads.StatusScheduled)
	if err != nil {
		span.RecordError(err)
		return leads.Conversation{}, err
	}
	e.metrics.ObserveStatusChange(string(previous), string(conv.Status))
	e.logger.Info("lead marked scheduled", "tenant_id", tenant.ID, "conversation_id", conv.ID, "previous_status", previous)

	if conv.LeadData.Name != "" && e.fanout != nil {
		snapshot := leads.Snapshot{
			TenantID:       tenant.ID,
			ConversationID: conv.ID,
			Phone:          conv.Phone,
			DisplayName:    conv.DisplayName,
			Data:           conv.LeadData,
			Status:         conv.Status,
			MessageCount:   conv.MessageCount,
			UpdatedAt:      e.now().UTC(),
		}
		if err := e.fanout.Enqueue(ctx, fanout.NewJob(fanout.ReasonScheduled, snapshot, previous)); err != nil {
			e.logger.Error("failed to enqueue lead fan-out", "tenant_id", tenant.ID, "conversation_id", conv.ID, "error", err)
		}
	}
	return conv, nil
}

func statusOrNew(view leads.ConversationView) leads.Status {
	if !view.Exists || view.Status == "" {
		return leads.StatusNew
	}
	return view.Status
}

func userMetadata(messageID string, guard GuardResult) map[string]string {
	meta := map[string]string{}
	if messageID != "" {
		meta["message_id"] = messageID
	}
	if guard.Score > 0 {
		meta["guard_score"] = fmt.Sprintf("%.2f", guard.Score)
	}
	return meta
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInbound):
		return "invalid"
	case errors.Is(err, tenancy.ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, tenancy.ErrTenantInactive):
		return "tenant_inactive"
	case errors.Is(err, ErrConversationBusy):
		return "busy"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrReplyDelivery):
		return "delivery_failed"
	}
	return "error"
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
