package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
)

// ConsumerConfig holds configuration for the queue consumer
type ConsumerConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	HandlerTimeout time.Duration
}

// DefaultConsumerConfig returns default configuration
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BatchSize:      5,
		PollInterval:   time.Second,
		HandlerTimeout: 10 * time.Second,
	}
}

// QueueConsumer drains a durable queue into a handler. Each message of a
// batch is handled in its own goroutine under HandlerTimeout. Success
// acknowledges it; failure releases it for redelivery until the redrive
// policy is exhausted, at which point the body is moved to the dead-letter
// queue and removed from the source.
type QueueConsumer struct {
	source  queue.Queue
	dlq     queue.Queue
	handler Handler
	policy  queue.Policy
	config  ConsumerConfig
	logger  *zap.Logger
	metrics *telemetry.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueueConsumer creates a consumer. metrics may be nil.
func NewQueueConsumer(
	source, dlq queue.Queue,
	handler Handler,
	policy queue.Policy,
	config ConsumerConfig,
	log *zap.Logger,
	metrics *telemetry.Metrics,
) *QueueConsumer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConsumerConfig().BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConsumerConfig().PollInterval
	}
	return &QueueConsumer{
		source:  source,
		dlq:     dlq,
		handler: handler,
		policy:  policy,
		config:  config,
		logger:  log,
		metrics: metrics,
	}
}

// Start starts the background polling
func (c *QueueConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.pollLoop(ctx)

	c.logger.Info("queue consumer started",
		zap.String("queue", c.source.Name()),
		zap.Int("batch_size", c.config.BatchSize),
		zap.Duration("poll_interval", c.config.PollInterval),
	)
	return nil
}

// Stop gracefully stops the consumer
func (c *QueueConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("queue consumer stopped", zap.String("queue", c.source.Name()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *QueueConsumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		// Keep draining while batches come back full.
		for {
			n, err := c.ProcessBatch(ctx)
			if err != nil || n < c.config.BatchSize || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch receives one batch and handles it, returning the number of
// messages received.
func (c *QueueConsumer) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := c.source.Receive(ctx, c.config.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("failed to receive messages", zap.String("queue", c.source.Name()), zap.Error(err))
		}
		return 0, err
	}

	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func(msg queue.Message) {
			defer wg.Done()
			c.processMessage(ctx, msg)
		}(msg)
	}
	wg.Wait()
	return len(msgs), nil
}

func (c *QueueConsumer) processMessage(ctx context.Context, msg queue.Message) {
	log := logger.L(ctx, c.logger).With(
		zap.String("queue", c.source.Name()),
		zap.String("message_id", msg.ID),
		zap.Int("receive_count", msg.ReceiveCount),
	)

	err := c.invoke(ctx, msg)
	if err == nil {
		if delErr := c.source.Delete(ctx, msg); delErr != nil {
			log.Error("failed to acknowledge message", zap.Error(delErr))
			return
		}
		c.metrics.QueueOutcome(c.source.Name(), telemetry.OutcomeAcked)
		log.Debug("message processed successfully")
		return
	}

	log.Error("failed to handle message",
		zap.String("body", logger.RedactJSON(msg.Body)),
		zap.Error(err),
	)
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		c.metrics.QueueOutcome(c.source.Name(), telemetry.OutcomeTimedOut)
	}

	if c.policy.Exhausted(msg) {
		c.deadLetter(ctx, log, msg, err)
		return
	}

	if relErr := c.source.Release(ctx, msg, c.policy.RetryDelay); relErr != nil {
		// The visibility deadline still brings the message back.
		log.Warn("failed to release message", zap.Error(relErr))
	}
	c.metrics.QueueOutcome(c.source.Name(), telemetry.OutcomeRetried)
}

// invoke runs the handler under the per-message timeout. A handler that
// outlives its deadline counts as failed even if it later returns nil.
func (c *QueueConsumer) invoke(ctx context.Context, msg queue.Message) error {
	if c.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandlerTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- c.handler(ctx, Message{
			ID:           msg.ID,
			Body:         msg.Body,
			Attributes:   msg.Attributes,
			PublishedAt:  msg.SentAt,
			ReceiveCount: msg.ReceiveCount,
			LastAttempt:  c.policy.Exhausted(msg),
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deadLetter copies the message verbatim to the DLQ, then removes it from
// the source. If the DLQ send fails the message stays in the source.
func (c *QueueConsumer) deadLetter(ctx context.Context, log *zap.Logger, msg queue.Message, cause error) {
	if _, err := c.dlq.Send(ctx, msg.Body, msg.Attributes); err != nil {
		log.Error("failed to move message to dead letter queue", zap.Error(err))
		return
	}
	if err := c.source.Delete(ctx, msg); err != nil {
		log.Error("message copied to dead letter queue but not removed from source", zap.Error(err))
		return
	}
	c.metrics.QueueOutcome(c.source.Name(), telemetry.OutcomeDeadLettered)
	log.Warn("message moved to dead letter queue",
		zap.String("dead_letter_queue", c.dlq.Name()),
		zap.String("body", logger.RedactJSON(msg.Body)),
		zap.NamedError("last_error", cause),
	)
}
