package main

import (
	"context"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/sdr-agent-platform/cmd/mainconfig"
	"github.com/wolfman30/sdr-agent-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/sdr-agent-platform/internal/config"
	"github.com/wolfman30/sdr-agent-platform/internal/fanout"
	"github.com/wolfman30/sdr-agent-platform/internal/notify"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// jobRunner runs one fan-out job against every sink of its tenant.
type jobRunner interface {
	Run(ctx context.Context, job fanout.Job) fanout.Summary
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		panic(err)
	}
	pool, sqlDB, err := bootstrap.BuildDatabase(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer pool.Close()
	defer sqlDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	resolver := tenancy.NewCachedResolver(tenancy.NewPostgresRepository(pool), redisClient, logger,
		tenancy.WithCacheTTL(cfg.TenantCacheTTL))

	publisher, err := bootstrap.BuildPublisher(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}
	sheetsSvc, err := bootstrap.BuildSheetsService(ctx, cfg)
	if err != nil {
		logger.Warn("sheets sink disabled", "error", err)
	}
	calendarSvc, err := bootstrap.BuildCalendarService(ctx, cfg)
	if err != nil {
		logger.Warn("calendar sink disabled", "error", err)
	}
	registry := bootstrap.BuildSinkRegistry(bootstrap.SinkDeps{
		Tenants:   resolver,
		Notifier:  notify.NewLeadNotifier(bootstrap.BuildEmailSender(cfg, awsCfg, logger), logger),
		Publisher: publisher,
		Archive:   bootstrap.BuildArchiveStore(cfg, awsCfg, logger),
		Sheets:    sheetsSvc,
		Calendar:  calendarSvc,
	}, logger)

	dispatcher := fanout.NewDispatcher(registry, fanout.NewSyncLogStore(sqlDB), logger,
		fanout.WithSinkTimeout(cfg.FanoutSinkTimeout),
		fanout.WithConcurrency(cfg.FanoutConcurrency),
	)

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, dispatcher, logger, evt)
	})
}

// handle runs each queued job once. Sink failures are already recorded in the
// sync log and are not retried, since a redelivery would repeat the sinks that
// succeeded. Only undecodable records are reported back so SQS can move them
// to the dead-letter queue.
func handle(ctx context.Context, runner jobRunner, logger *logging.Logger, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		job, err := fanout.DecodeJob(record.Body)
		if err != nil {
			logger.Error("fanout lambda: undecodable job", "message_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		summary := runner.Run(ctx, job)
		logger.Info("fanout lambda: job done",
			"job_id", job.ID,
			"tenant_id", job.Snapshot.TenantID,
			"reason", job.Reason,
			"sent", summary.Sent,
			"total", summary.Total,
		)
	}
	return resp, nil
}
