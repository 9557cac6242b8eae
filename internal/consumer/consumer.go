package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/baechuer/notification-fabric/internal/config"
	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/logger"
	"github.com/baechuer/notification-fabric/internal/metrics"
	"github.com/baechuer/notification-fabric/internal/orchestrator"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes      = 1024 * 1024
	reconnectAttempts = 5
	reconnectDelay    = 5 * time.Second
	shutdownGrace     = 30 * time.Second
)

// Handler processes one decoded job and returns the broker verdict.
type Handler func(ctx context.Context, job *domain.DeliveryJob) (orchestrator.Outcome, error)

// Consumer drains one durable queue and feeds jobs to a worker pool.
// Negatively-acknowledged messages without requeue flow to the configured
// dead-letter routing key.
type Consumer struct {
	cfg      *config.Config
	handler  Handler
	validate *validator.Validate
	pool     *WorkerPool
	lg       zerolog.Logger
}

func New(cfg *config.Config, handler Handler) *Consumer {
	return &Consumer{
		cfg:      cfg,
		handler:  handler,
		validate: validator.New(),
		pool:     NewWorkerPool(cfg.WorkerPool),
		lg:       logger.WithComponent("consumer"),
	}
}

// Run consumes until ctx is cancelled. Connection loss triggers a bounded
// reconnect (5 attempts, 5s apart); exhaustion returns an error and the
// process is expected to exit for the supervisor to restart it.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.pool.Wait()

	for {
		conn, ch, err := c.connect(ctx)
		if err != nil {
			return err
		}

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		err = c.consume(ctx, ch, closed)
		_ = ch.Close()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.lg.Info().Msg("consumer stopped")
			return nil
		}
		if err != nil {
			c.lg.Warn().Err(err).Msg("consume loop ended, reconnecting")
		}
	}
}

func (c *Consumer) connect(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	var lastErr error
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		conn, err := amqp.Dial(c.cfg.RabbitURL)
		if err == nil {
			ch, chErr := c.setupChannel(conn)
			if chErr == nil {
				return conn, ch, nil
			}
			_ = conn.Close()
			err = chErr
		}

		lastErr = err
		c.lg.Warn().Err(err).Int("attempt", attempt).Msg("broker connection failed")

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
	return nil, nil, fmt.Errorf("broker unreachable after %d attempts: %w", reconnectAttempts, lastErr)
}

// setupChannel declares the work queue (dead-lettering into the DLQ), the
// DLQ itself, and the prefetch window.
func (c *Consumer) setupChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.cfg.DLQ,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}
	if err := ch.QueueBind(c.cfg.DLQ, c.cfg.DLQ, c.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind DLQ: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    c.cfg.Exchange,
			"x-dead-letter-routing-key": c.cfg.DLQ,
		},
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(c.cfg.Queue, c.cfg.Queue, c.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return ch, nil
}

func (c *Consumer) consume(ctx context.Context, ch *amqp.Channel, closed <-chan *amqp.Error) error {
	deliveries, err := ch.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.lg.Info().Str("queue", c.cfg.Queue).Int("prefetch", c.cfg.PrefetchCount).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("broker connection closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			metrics.RecordMessageConsumed(c.cfg.Queue)
			c.pool.Submit(func() {
				c.handleMessage(ctx, d)
			})
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	job, rejectReason := c.decode(d.Body)
	if job == nil {
		c.lg.Warn().Str("reason", rejectReason).Msg("rejecting undecodable message")
		metrics.RecordDLQMessage(c.cfg.Queue, rejectReason)
		_ = d.Nack(false, false) // dead-letter, the broker cannot fix this
		return
	}

	log := logger.WithRequestID(job.RequestID)

	// A job already in flight finishes even when the consume context is
	// cancelled at shutdown. The handler runs on a detached context bounded
	// by the grace period; Run waits on the pool before returning.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	outcome, err := c.safeHandle(hctx, job)
	metrics.RecordProcessing(c.cfg.Channel, time.Since(start))

	switch outcome {
	case orchestrator.OutcomeOK:
		_ = d.Ack(false)
	case orchestrator.OutcomeTransient:
		log.Warn().Err(err).Str("notification_id", job.NotificationID.String()).Msg("transient failure, requeueing")
		_ = d.Nack(false, true)
	default:
		log.Error().Err(err).Str("notification_id", job.NotificationID.String()).Msg("permanent failure, dead-lettering")
		metrics.RecordDLQMessage(c.cfg.Queue, "permanent_failure")
		_ = d.Nack(false, false)
	}
}

// decode parses and validates the job. A nil job means reject-without-requeue.
func (c *Consumer) decode(body []byte) (*domain.DeliveryJob, string) {
	if len(body) > maxBodyBytes {
		return nil, "message_too_large"
	}

	var job domain.DeliveryJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, "invalid_json"
	}
	if err := c.validate.Struct(&job); err != nil {
		return nil, "schema_validation_failed"
	}
	if !job.HasTemplate() {
		return nil, "missing_template"
	}
	return &job, ""
}

// safeHandle treats handler panics as transient failures.
func (c *Consumer) safeHandle(ctx context.Context, job *domain.DeliveryJob) (outcome orchestrator.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.lg.Error().Interface("panic", r).Msg("handler panicked")
			outcome = orchestrator.OutcomeTransient
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, job)
}

// Close drains the worker pool.
func (c *Consumer) Close() {
	c.pool.Stop()
}
