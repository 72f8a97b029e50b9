package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends lead event envelopes to a durable topic exchange.
type Publisher struct {
	open     func() (amqpChannel, error)
	closeFn  func() error
	exchange string
	logger   *logging.Logger
}

// DialPublisher connects to RabbitMQ with retry and declares the exchange.
func DialPublisher(ctx context.Context, url, exchange string, logger *logging.Logger) (*Publisher, error) {
	if exchange == "" {
		return nil, errors.New("events: exchange is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := dialWithRetry(ctx, url, 5, 500*time.Millisecond, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	return &Publisher{
		open: func() (amqpChannel, error) {
			return conn.Channel()
		},
		closeFn:  conn.Close,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func newPublisherWithChannel(open func() (amqpChannel, error), exchange string) *Publisher {
	if open == nil {
		panic("events: channel opener required")
	}
	return &Publisher{open: open, closeFn: func() error { return nil }, exchange: exchange, logger: logging.Discard()}
}

// Publish sends env with its event type as routing key.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("events: open channel: %w", err)
	}
	defer ch.Close()

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = env.EventID.String()
	}
	err = ch.PublishWithContext(ctx, p.exchange, env.EventType, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID.String(),
		CorrelationId: correlationID,
		Type:          env.EventType,
		AppId:         env.Producer,
		Timestamp:     time.UnixMicro(env.TimestampMicros).UTC(),
		Headers:       amqp.Table{"tenant_id": env.TenantID},
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", env.EventType, err)
	}
	p.logger.Debug("published", "key", env.EventType, "exchange", p.exchange, "tenant_id", env.TenantID)
	return nil
}

// Close closes the underlying connection.
func (p *Publisher) Close() error {
	return p.closeFn()
}

func dialWithRetry(ctx context.Context, url string, attempts int, delay time.Duration, logger *logging.Logger) (*amqp.Connection, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			if i > 1 {
				logger.Info("rabbit connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err
		sleep := delay * time.Duration(1<<(i-1))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.Warn("rabbit dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("events: dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("events: connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}
