package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var defaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}

type Consumer struct {
	group    sarama.ConsumerGroup
	logger   *slog.Logger
	dlq      Publisher
	dlqTopic string
	retry    RetryPolicy
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		logger: logger,
		retry:  defaultRetryPolicy,
	}, nil
}

// WithDLQ routes messages that fail permanently (DLQError) or exhaust their
// retries to topic instead of blocking the partition.
func (c *Consumer) WithDLQ(publisher Publisher, topic string) *Consumer {
	c.dlq = publisher
	c.dlqTopic = topic
	return c
}

func (c *Consumer) WithRetry(policy RetryPolicy) *Consumer {
	if policy.MaxAttempts > 0 {
		c.retry = policy
	}
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlq,
		dlqTopic:     c.dlqTopic,
		retry:        c.retry,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retry        RetryPolicy
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		attempts, err := h.handle(ctx, msg)
		if err == nil {
			session.MarkMessage(msg, "")
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		var dlqErr *DLQError
		if !errors.As(err, &dlqErr) {
			dlqErr = &DLQError{Err: err, Reason: "max_retries"}
		}
		h.logger.Error("kafka message failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"attempts", attempts, "reason", dlqErr.Reason, "error", err)

		if h.dlqPublisher == nil || h.dlqTopic == "" {
			// without a DLQ the offset stays uncommitted and is redelivered
			continue
		}
		payload := BuildDLQPayload(msg, dlqErr, attempts)
		if _, _, pubErr := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), payload); pubErr != nil {
			h.logger.Error("kafka dlq publish failed", "topic", h.dlqTopic, "error", pubErr)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) (int, error) {
	policy := h.retry
	if policy.MaxAttempts <= 0 {
		policy = defaultRetryPolicy
	}

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = h.handler.HandleMessage(ctx, msg)
		if err == nil {
			return attempt, nil
		}
		var dlqErr *DLQError
		if errors.As(err, &dlqErr) {
			return attempt, err
		}
		if attempt == policy.MaxAttempts {
			return attempt, err
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(policy.Backoff * time.Duration(attempt)):
		}
	}
	return policy.MaxAttempts, err
}
