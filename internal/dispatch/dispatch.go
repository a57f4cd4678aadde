package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/pipeline"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/messaging"
	"github.com/driplabs/drip-api/pkg/metrics"
)

// Channel carries delivery tasks from the API to the worker.
const Channel = "drip:deliveries"

// Job types on the delivery channel.
const (
	TypeSend   = "send"
	TypeResend = "resend"
)

// Enqueuer publishes delivery tasks for asynchronous execution.
type Enqueuer interface {
	EnqueueSend(ctx context.Context, subscriptionID uuid.UUID) error
	EnqueueResend(ctx context.Context, subscriptionID, requestID uuid.UUID) error
}

type enqueuer struct {
	broker  messaging.Broker
	metrics *metrics.Metrics
}

func NewEnqueuer(broker messaging.Broker, m *metrics.Metrics) Enqueuer {
	return &enqueuer{broker: broker, metrics: m}
}

func (e *enqueuer) EnqueueSend(ctx context.Context, subscriptionID uuid.UUID) error {
	return e.publish(ctx, TypeSend, &pipeline.Task{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
	})
}

func (e *enqueuer) EnqueueResend(ctx context.Context, subscriptionID, requestID uuid.UUID) error {
	return e.publish(ctx, TypeResend, &pipeline.Task{
		ID:              uuid.NewString(),
		SubscriptionID:  subscriptionID,
		Resend:          true,
		ResendRequestID: requestID,
	})
}

func (e *enqueuer) publish(ctx context.Context, jobType string, task *pipeline.Task) error {
	if err := e.broker.Publish(ctx, Channel, &messaging.Message{
		Type:    jobType,
		Payload: task,
	}); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	e.metrics.JobsEnqueued.WithLabelValues(jobType).Inc()
	return nil
}

// Consumer drains delivery tasks off the broker and runs them through
// the pipeline.
type Consumer struct {
	broker  messaging.Broker
	pipe    *pipeline.Pipeline
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewConsumer(broker messaging.Broker, pipe *pipeline.Pipeline, m *metrics.Metrics, log *logger.Logger) *Consumer {
	return &Consumer{broker: broker, pipe: pipe, metrics: m, logger: log}
}

// Run blocks consuming tasks until the context is cancelled. Pipeline
// errors are logged and swallowed: the failure record plus the requeue
// job own recovery, a bad task must not stall the channel.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, Channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to delivery channel: %w", err)
	}

	c.logger.Info("delivery consumer started", "channel", Channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, raw)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw []byte) {
	var envelope struct {
		Type    string        `json:"type"`
		Payload pipeline.Task `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Error(err, "failed to decode delivery job")
		return
	}
	c.metrics.JobsConsumed.WithLabelValues(envelope.Type).Inc()

	task := envelope.Payload
	if err := c.pipe.Run(ctx, &task); err != nil {
		c.logger.Error(err, "delivery task failed", "task_id", task.ID, "type", envelope.Type)
	}
}
