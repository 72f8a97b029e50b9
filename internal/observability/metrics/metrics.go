package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the conversation engine
// and lead fan-out. A nil *ConversationMetrics is a no-op.
type ConversationMetrics struct {
	inboundTotal    *prometheus.CounterVec
	llmLatency      *prometheus.HistogramVec
	llmTokens       *prometheus.CounterVec
	sinkTotal       *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Inbound WhatsApp messages by outcome",
		}, []string{"outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sdr",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of completion gateway calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"provider", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Subsystem: "conversation",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed per tenant",
		}, []string{"tenant"}),
		sinkTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Subsystem: "fanout",
			Name:      "sink_total",
			Help:      "Lead fan-out sink invocations by outcome",
		}, []string{"sink", "status"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Subsystem: "conversation",
			Name:      "persist_failures_total",
			Help:      "Turns that could not be persisted",
		}, []string{"reason"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Subsystem: "conversation",
			Name:      "status_changes_total",
			Help:      "Lead status transitions",
		}, []string{"from", "to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.llmLatency, m.llmTokens, m.sinkTotal, m.persistFailures, m.statusChanges)
	return m
}

func (m *ConversationMetrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

func (m *ConversationMetrics) ObserveLLM(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(provider, status).Observe(seconds)
}

func (m *ConversationMetrics) AddTokens(tenantID string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.llmTokens.WithLabelValues(tenantID).Add(float64(tokens))
}

func (m *ConversationMetrics) ObserveSink(sink, status string) {
	if m == nil {
		return
	}
	m.sinkTotal.WithLabelValues(sink, status).Inc()
}

func (m *ConversationMetrics) ObservePersistFailure(reason string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(reason).Inc()
}

func (m *ConversationMetrics) ObserveStatusChange(from, to string) {
	if m == nil || from == to {
		return
	}
	m.statusChanges.WithLabelValues(from, to).Inc()
}
