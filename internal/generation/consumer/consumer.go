package consumer

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/internal/generation/dispatch"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

// Consumer feeds generation triggers from Pub/Sub into the processor.
type Consumer struct {
	processor    *Processor
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer wires the generation trigger consumer.
func NewConsumer(processor *Processor, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if subscription == nil {
		return nil, errors.New("generation subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		processor:    processor,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes triggers until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle reports whether the message should be acked. Malformed payloads are
// acked; redelivering them can never help. Processing errors are nacked so
// the subscription retries before the sweep has to.
func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	var trigger dispatch.TriggerMessage
	if err := json.Unmarshal(msg.Data, &trigger); err != nil {
		c.logg.Error(logCtx, "undecodable generation trigger", err)
		return true
	}
	jobID, err := uuid.Parse(trigger.JobID)
	if err != nil {
		c.logg.Error(logCtx, "trigger carried an invalid job id", err)
		return true
	}

	if err := c.processor.Process(logCtx, jobID); err != nil {
		c.logg.Error(logCtx, "processing generation trigger", err)
		return false
	}
	return true
}
