package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/sirupsen/logrus"
)

// Delivery is one message taken off the work channel.
type Delivery struct {
	MessageId string
	Data      []byte
	// DeliveryAttempt is filled by the transport when it counts deliveries itself.
	DeliveryAttempt *int
}

type GroupingRunner interface {
	RunGrouping(ctx context.Context, batchId uuid.UUID) (*RunResult, error)
}

// GroupingConsumer turns trigger deliveries into grouping runs and decides
// whether each delivery is acknowledged or handed back for redelivery.
type GroupingConsumer struct {
	Runner      GroupingRunner
	Tracker     DeliveryTracker // optional when the transport reports attempts
	Logger      *logrus.Logger
	MaxAttempts int
}

func NewGroupingConsumer(runner GroupingRunner, tracker DeliveryTracker, logger *logrus.Logger) *GroupingConsumer {
	return &GroupingConsumer{
		Runner:      runner,
		Tracker:     tracker,
		Logger:      logger,
		MaxAttempts: config.GroupingMaxDeliveryAttempts(),
	}
}

// Handle never panics on bad input: malformed payloads are acknowledged and logged,
// stalls are terminal, everything else is retried until MaxAttempts.
func (c *GroupingConsumer) Handle(ctx context.Context, d Delivery) Outcome {
	ctx = utils.SetMessageIdInContext(ctx, d.MessageId)
	ctx = utils.SetTriggerInContext(ctx, utils.TriggerConsumer)
	log := c.logger().WithField("message_id", d.MessageId)

	var msg config.StartGroupingMessage
	if err := decodeStartGrouping(d.Data, &msg); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		log.WithField("payload", string(d.Data)).Error(err.Error())
		if c.Tracker != nil {
			if _, _, berr := c.Tracker.Begin(ctx, d.MessageId, nil); berr == nil {
				c.finish(ctx, log, d.MessageId, models.DeliveryStatusDead, err)
			}
		}
		return Terminal(ReasonMalformed, err)
	}
	ctx = utils.SetBatchIdInContext(ctx, msg.BatchId.String())
	log = log.WithField("batch_id", msg.BatchId.String())

	attempt := 0
	if d.DeliveryAttempt != nil {
		attempt = *d.DeliveryAttempt
	}
	if c.Tracker != nil {
		counted, previous, err := c.Tracker.Begin(ctx, d.MessageId, &msg.BatchId)
		if err != nil {
			log.Error("record delivery: " + err.Error())
			return c.retryOrGiveUp(ctx, log, d.MessageId, attempt, err)
		}
		if previous == models.DeliveryStatusDead {
			log.Warn("delivery already dead-lettered; acknowledging")
			c.finish(ctx, log, d.MessageId, models.DeliveryStatusDead, nil)
			return Terminal(ReasonAlreadyDead, nil)
		}
		if d.DeliveryAttempt == nil {
			attempt = counted
		}
	}
	log = log.WithField("attempt", attempt)

	_, err := c.Runner.RunGrouping(ctx, msg.BatchId)
	switch {
	case err == nil:
		c.finish(ctx, log, d.MessageId, models.DeliveryStatusSucceeded, nil)
		return Success()
	case !IsRetryable(err):
		log.Error("grouping failed permanently: " + err.Error())
		c.finish(ctx, log, d.MessageId, models.DeliveryStatusDead, err)
		reason := ReasonNonRetryable
		switch {
		case IsStall(err):
			reason = ReasonStall
		case errors.Is(err, ErrUnknownBatch):
			reason = ReasonUnknownBatch
		}
		return Terminal(reason, err)
	default:
		log.WithField("transient", IsTransient(err)).Warn("grouping failed: " + err.Error())
		return c.retryOrGiveUp(ctx, log, d.MessageId, attempt, err)
	}
}

func (c *GroupingConsumer) retryOrGiveUp(ctx context.Context, log *logrus.Entry, messageId string, attempt int, err error) Outcome {
	if c.MaxAttempts > 0 && attempt >= c.MaxAttempts {
		log.Error(fmt.Sprintf("giving up after %d attempts: %v", attempt, err))
		c.finish(ctx, log, messageId, models.DeliveryStatusDead, err)
		return Terminal(ReasonAttemptsExhausted, err)
	}
	c.finish(ctx, log, messageId, models.DeliveryStatusFailed, err)
	return Retryable(ReasonTransient, err)
}

func (c *GroupingConsumer) finish(ctx context.Context, log *logrus.Entry, messageId string, status models.DeliveryStatus, cause error) {
	if c.Tracker == nil {
		return
	}
	if err := c.Tracker.Finish(context.WithoutCancel(ctx), messageId, status, cause); err != nil {
		log.Warn("record delivery outcome: " + err.Error())
	}
}

func (c *GroupingConsumer) logger() *logrus.Entry {
	l := c.Logger
	if l == nil {
		l = config.GetLogger()
	}
	return l.WithField("field", "GroupingConsumer")
}

func decodeStartGrouping(data []byte, msg *config.StartGroupingMessage) error {
	if err := utils.DecodeSingleJSON(data, msg); err != nil {
		return err
	}
	if err := utils.ValidateStruct(msg); err != nil {
		return fmt.Errorf("invalid fields %v", utils.ProcessValidationErrors(err))
	}
	return nil
}
