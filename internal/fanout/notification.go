package fanout

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/notify"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

// LeadNotifier sends the operator email for a notice.
type LeadNotifier interface {
	Notify(ctx context.Context, notice notify.LeadNotice) (notify.Delivery, error)
}

// NotificationSink emails the agency when a lead turns qualified or scheduled.
type NotificationSink struct {
	notifier   LeadNotifier
	tenantName string
	recipients []string
	kinds      map[notify.Kind]bool
}

// NewNotificationFactory builds email sinks. Settings: recipients (comma
// separated), optional notify_qualified / notify_scheduled set to "false".
func NewNotificationFactory(notifier LeadNotifier) Factory {
	return func(tenant *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		raw, err := requireSetting(cfg, "recipients")
		if err != nil {
			return nil, err
		}
		recipients := notify.ParseRecipients(raw)
		if len(recipients) == 0 {
			return nil, fmt.Errorf("%w: notification recipients %q has no address", ErrSinkConfig, raw)
		}
		return &NotificationSink{
			notifier:   notifier,
			tenantName: tenant.Name,
			recipients: recipients,
			kinds: map[notify.Kind]bool{
				notify.KindQualified: !isFalse(cfg.Setting("notify_qualified")),
				notify.KindScheduled: !isFalse(cfg.Setting("notify_scheduled")),
			},
		}, nil
	}
}

func isFalse(v string) bool {
	switch strings.ToLower(v) {
	case "false", "0", "no", "off":
		return true
	}
	return false
}

func (s *NotificationSink) Name() string { return SinkNotification }

// ShouldSend fires only on a fresh transition into qualified or scheduled.
func (s *NotificationSink) ShouldSend(job Job) bool {
	if !job.StatusChanged() {
		return false
	}
	kind, ok := notify.KindForStatus(job.Snapshot.Status)
	return ok && s.kinds[kind]
}

func (s *NotificationSink) Send(ctx context.Context, job Job) SinkResult {
	kind, ok := notify.KindForStatus(job.Snapshot.Status)
	if !ok {
		return skipped("status has no notification")
	}
	delivery, err := s.notifier.Notify(ctx, notify.LeadNotice{
		Kind:       kind,
		TenantName: s.tenantName,
		Recipients: s.recipients,
		Snapshot:   job.Snapshot,
	})
	summary := fmt.Sprintf("%s email sent to %d of %d", kind, delivery.Sent, len(s.recipients))
	if err != nil {
		return failure(err, summary)
	}
	return success(summary)
}

var _ TriggeredSink = (*NotificationSink)(nil)
