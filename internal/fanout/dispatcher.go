// Package fanout pushes lead snapshots to every destination a tenant has enabled:
// CRMs, spreadsheets, email, the event bus and the S3 archive.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/sdr-agent-platform/internal/observability/metrics"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

const (
	defaultSinkTimeout = 10 * time.Second
	defaultConcurrency = 4
	syncLogTimeout     = 5 * time.Second
)

var fanoutTracer = otel.Tracer("sdr.internal.fanout")

// SyncLogger persists one row per sink outcome.
type SyncLogger interface {
	Record(ctx context.Context, entry SyncLogEntry) error
}

// Summary is the result of one job across all sinks.
type Summary struct {
	Sent    int          `json:"sent"`
	Total   int          `json:"total"`
	Results []SinkResult `json:"results"`
}

// Dispatcher runs jobs against the tenant's sinks. A sink that fails or
// panics only affects its own result.
type Dispatcher struct {
	source      SinkSource
	logs        SyncLogger
	metrics     *metrics.ConversationMetrics
	logger      *logging.Logger
	sinkTimeout time.Duration
	concurrency int
	now         func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSinkTimeout bounds every individual sink call.
func WithSinkTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.sinkTimeout = d
		}
	}
}

// WithConcurrency caps how many sinks of one job run at once.
func WithConcurrency(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.concurrency = n
		}
	}
}

// WithMetrics records sink outcomes.
func WithMetrics(m *metrics.ConversationMetrics) Option {
	return func(disp *Dispatcher) {
		disp.metrics = m
	}
}

// NewDispatcher wires a dispatcher. logs may be nil when no sync log is kept.
func NewDispatcher(source SinkSource, logs SyncLogger, logger *logging.Logger, opts ...Option) *Dispatcher {
	if source == nil {
		panic("fanout: sink source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		source:      source,
		logs:        logs,
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Run delivers job to every enabled sink and waits for all of them.
func (d *Dispatcher) Run(ctx context.Context, job Job) Summary {
	logger := d.logger.With("tenant_id", job.Snapshot.TenantID, "conversation_id", job.Snapshot.ConversationID, "job_id", job.ID)
	if !job.Snapshot.HasIdentity() {
		logger.Debug("fanout: lead has no name yet, nothing to sync")
		return Summary{}
	}

	sinks, err := d.source.Sinks(ctx, job.Snapshot.TenantID)
	if err != nil {
		logger.Error("fanout: load sinks failed", "error", err)
		return Summary{}
	}
	if len(sinks) == 0 {
		return Summary{}
	}

	results := make([]SinkResult, len(sinks))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, sink := range sinks {
		g.Go(func() error {
			results[i] = d.invoke(ctx, sink, job)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Total: len(results), Results: results}
	for _, res := range results {
		if res.Status == StatusSuccess {
			summary.Sent++
		}
		d.metrics.ObserveSink(res.Sink, string(res.Status))
		d.record(ctx, job, res, logger)
	}
	logger.Info("fanout: job finished", "reason", job.Reason, "sent", summary.Sent, "total", summary.Total)
	return summary
}

func (d *Dispatcher) invoke(ctx context.Context, sink Sink, job Job) (res SinkResult) {
	name := sink.Name()
	ctx, span := fanoutTracer.Start(ctx, "fanout.sink."+name)
	span.SetAttributes(
		attribute.String("sdr.tenant_id", job.Snapshot.TenantID),
		attribute.String("sdr.sink", name),
		attribute.String("sdr.job_id", job.ID),
	)
	defer func() {
		if r := recover(); r != nil {
			res = failure(fmt.Errorf("fanout: sink %s panicked: %v", name, r), "")
		}
		res.Sink = name
		span.SetAttributes(attribute.String("sdr.sink_status", string(res.Status)))
		if res.Status == StatusFailure {
			if res.Err != nil {
				span.RecordError(res.Err)
			}
			span.SetStatus(codes.Error, "sink failed")
		}
		span.End()
	}()

	if t, ok := sink.(TriggeredSink); ok && !t.ShouldSend(job) {
		return skipped("trigger not met")
	}

	sinkCtx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()
	return sink.Send(sinkCtx, job)
}

func (d *Dispatcher) record(ctx context.Context, job Job, res SinkResult, logger *logging.Logger) {
	if res.Status == StatusFailure {
		logger.Warn("fanout: sink failed", "sink", res.Sink, "error", res.Err)
	}
	if d.logs == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncLogTimeout)
	defer cancel()
	if err := d.logs.Record(logCtx, NewSyncLogEntry(job, res, d.now())); err != nil {
		logger.Error("fanout: write sync log failed", "sink", res.Sink, "error", err)
	}
}

// Enqueue runs the job in the background, detached from the caller's
// cancellation, and returns at once.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.Run(runCtx, job)
	}()
	return nil
}

// Close stops accepting jobs and waits for in-flight ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fanout: close: %w", ctx.Err())
	}
}

var _ Enqueuer = (*Dispatcher)(nil)
