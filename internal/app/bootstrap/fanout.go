package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/wolfman30/sdr-agent-platform/internal/archive"
	appconfig "github.com/wolfman30/sdr-agent-platform/internal/config"
	"github.com/wolfman30/sdr-agent-platform/internal/events"
	"github.com/wolfman30/sdr-agent-platform/internal/fanout"
	"github.com/wolfman30/sdr-agent-platform/internal/notify"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// BuildEmailSender picks the notification transport from EMAIL_PROVIDER.
// Without credentials it falls back to the stub, which only logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "ses":
		if cfg.NotifyFromEmail == "" {
			break
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger)
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	logger.Warn("email provider not configured; notifications are logged only", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger)
}

// SinkDeps are the clients sink factories may need. Nil entries leave the
// matching sink type unregistered, so tenants configuring it get a skipped result.
type SinkDeps struct {
	Tenants   fanout.TenantLookup
	Notifier  *notify.LeadNotifier
	Publisher *events.Publisher
	Archive   *archive.Store
	Sheets    *sheets.Service
	Calendar  *calendar.Service
}

// BuildSinkRegistry registers a factory for every sink type that can run.
func BuildSinkRegistry(deps SinkDeps, logger *logging.Logger) *fanout.Registry {
	registry := fanout.NewRegistry(deps.Tenants, logger)
	httpClient := fanout.DefaultHTTPClient()
	registry.Register(fanout.SinkRDStation, fanout.NewRDStationFactory(httpClient))
	registry.Register(fanout.SinkPipedrive, fanout.NewPipedriveFactory(httpClient))
	registry.Register(fanout.SinkNotion, fanout.NewNotionFactory(httpClient))
	registry.Register(fanout.SinkMoskit, fanout.NewMoskitFactory(httpClient))
	registry.Register(fanout.SinkZoho, fanout.NewZohoFactory(httpClient))
	registry.Register(fanout.SinkWebhook, fanout.NewWebhookFactory(httpClient))
	if deps.Notifier != nil {
		registry.Register(fanout.SinkNotification, fanout.NewNotificationFactory(deps.Notifier))
	}
	if deps.Publisher != nil {
		registry.Register(fanout.SinkEvents, fanout.NewEventFactory(deps.Publisher))
	}
	if deps.Archive != nil && deps.Archive.Enabled() {
		registry.Register(fanout.SinkArchive, fanout.NewArchiveFactory(deps.Archive))
	}
	if deps.Sheets != nil {
		registry.Register(fanout.SinkSheets, fanout.NewSheetsFactory(deps.Sheets))
	}
	if deps.Calendar != nil {
		registry.Register(fanout.SinkCalendar, fanout.NewCalendarFactory(deps.Calendar))
	}
	return registry
}

// BuildSheetsService returns nil when no service account file is configured.
func BuildSheetsService(ctx context.Context, cfg *appconfig.Config) (*sheets.Service, error) {
	path := strings.TrimSpace(cfg.GoogleCredentialsFile)
	if path == "" {
		return nil, nil
	}
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(path), option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sheets service: %w", err)
	}
	return svc, nil
}

// BuildCalendarService returns nil when no service account file is configured.
// Tenants share their calendar with the service account's email.
func BuildCalendarService(ctx context.Context, cfg *appconfig.Config) (*calendar.Service, error) {
	path := strings.TrimSpace(cfg.GoogleCredentialsFile)
	if path == "" {
		return nil, nil
	}
	svc, err := calendar.NewService(ctx, option.WithCredentialsFile(path), option.WithScopes(calendar.CalendarEventsScope))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: calendar service: %w", err)
	}
	return svc, nil
}

// BuildArchiveStore returns a disabled store when ARCHIVE_BUCKET is empty.
func BuildArchiveStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *archive.Store {
	if strings.TrimSpace(cfg.ArchiveBucket) == "" {
		return archive.NewStore(nil, "", logger)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return archive.NewStore(client, cfg.ArchiveBucket, logger)
}

// BuildPublisher dials RabbitMQ when RABBITMQ_URL is set.
func BuildPublisher(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*events.Publisher, error) {
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		return nil, nil
	}
	return events.DialPublisher(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
}

// BuildEnqueuer selects where the engine hands fan-out jobs: the in-process
// dispatcher or the SQS queue drained by the fan-out lambda.
func BuildEnqueuer(cfg *appconfig.Config, awsCfg aws.Config, dispatcher *fanout.Dispatcher) (fanout.Enqueuer, error) {
	switch cfg.FanoutMode {
	case "", "inline":
		if dispatcher == nil {
			return nil, fmt.Errorf("bootstrap: inline fan-out requires a dispatcher")
		}
		return dispatcher, nil
	case "sqs":
		if strings.TrimSpace(cfg.FanoutQueueURL) == "" {
			return nil, fmt.Errorf("bootstrap: FANOUT_QUEUE_URL is required for sqs fan-out")
		}
		return fanout.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.FanoutQueueURL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown fan-out mode %q", cfg.FanoutMode)
	}
}
