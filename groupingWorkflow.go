package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/mmdatafocus/goods_grouper/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// groupingStack is everything a process needs to run grouping: the engine and
// the two ways it gets triggered.
type groupingStack struct {
	Engine   *workflow.GroupingEngine
	Consumer *workflow.GroupingConsumer
	Scanner  *workflow.ReconciliationScanner
}

func newGroupingStack(db *gorm.DB, logger *logrus.Logger) *groupingStack {
	gateway := workflow.NewGormInventoryGateway(db, config.GroupingLockWait())

	var locker workflow.BatchLocker
	if rl := config.GetRedisLock(); rl != nil {
		locker = workflow.NewRedisBatchLocker(rl, logger)
	} else {
		logger.WithFields(logrus.Fields{"field": "grouping"}).
			Warn("redis lock not ready; relying on database locks only")
	}

	engine := workflow.NewGroupingEngine(gateway, locker, workflow.RedisGroupCache{}, logger)
	return &groupingStack{
		Engine:   engine,
		Consumer: workflow.NewGroupingConsumer(engine, workflow.NewGormDeliveryTracker(db), logger),
		Scanner:  workflow.NewReconciliationScanner(gateway, engine, logger),
	}
}

// RunGroupingSubscriber pulls StartGroupingMessage deliveries until ctx is done.
// Receive returns only after in-flight callbacks finish; each callback runs on a
// context detached from ctx so shutdown does not abort a half-done run.
func RunGroupingSubscriber(ctx context.Context, consumer *workflow.GroupingConsumer) error {
	logger := config.GetLogger()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, config.GroupingTopic())
	if err != nil {
		return err
	}

	opts := config.SubscriptionOptions{
		MinBackoff: config.GroupingRetryMinBackoff(),
		MaxBackoff: config.GroupingRetryMaxBackoff(),
	}
	if name := config.GroupingDeadLetterTopic(); name != "" {
		dlq, err := config.CreateTopicIfNotExists(ctx, client, name)
		if err != nil {
			return err
		}
		opts.DeadLetterTopic = dlq
		opts.MaxDeliveryAttempts = config.GroupingMaxDeliveryAttempts()
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, config.GroupingSubscription(), topic, opts)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = config.GroupingConsumerConcurrency()

	callback := func(msgCtx context.Context, msg *pubsub.Message) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(msgCtx), config.GroupingRunTimeout())
		defer cancel()
		runCtx = utils.SetCorrelationIdInContext(runCtx, msg.ID)

		outcome := consumer.Handle(runCtx, workflow.Delivery{
			MessageId:       msg.ID,
			Data:            msg.Data,
			DeliveryAttempt: msg.DeliveryAttempt,
		})
		logOutcome(logger, msg.ID, outcome)
		if outcome.ShouldAck() {
			msg.Ack()
			return
		}
		msg.Nack()
	}

	logger.WithFields(logrus.Fields{
		"field":        "GroupingSubscriber",
		"subscription": config.GroupingSubscription(),
		"concurrency":  config.GroupingConsumerConcurrency(),
	}).Info("receiving grouping triggers")
	return sub.Receive(ctx, callback)
}

// pushEnvelope is the body Pub/Sub posts to a push endpoint.
type pushEnvelope struct {
	Message struct {
		Data      []byte `json:"data,omitempty"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt *int   `json:"deliveryAttempt,omitempty"`
}

// groupingPushHandler serves push subscriptions. 2xx acks; any other status asks
// Pub/Sub to redeliver.
func groupingPushHandler(consumer func() *workflow.GroupingConsumer) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		gc := consumer()
		if gc == nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "groupingWorkflow.go", "groupingPushHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		var env pushEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			config.LogError(logger, "groupingWorkflow.go", "groupingPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), config.GroupingRunTimeout())
		defer cancel()
		outcome := gc.Handle(runCtx, workflow.Delivery{
			MessageId:       env.Message.MessageId,
			Data:            env.Message.Data,
			DeliveryAttempt: env.DeliveryAttempt,
		})
		logOutcome(logger, env.Message.MessageId, outcome)
		if outcome.ShouldAck() {
			c.Status(http.StatusNoContent)
			return
		}
		c.Status(http.StatusInternalServerError)
	}
}

func logOutcome(logger *logrus.Logger, messageId string, outcome workflow.Outcome) {
	entry := logger.WithFields(logrus.Fields{
		"field":      "GroupingSubscriber",
		"message_id": messageId,
		"outcome":    outcome.Kind.String(),
		"reason":     outcome.Reason,
	})
	if outcome.Kind == workflow.OutcomeSuccess {
		entry.Debug("delivery handled")
		return
	}
	entry.Info("delivery handled")
}
