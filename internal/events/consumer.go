package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/engine"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
)

// Consumer ingests completed detection analyses from kafka and drives each
// one through the evaluation engine. Undecodable and contract-violating
// messages are logged and skipped so one poison message cannot wedge a
// partition; degraded persistence is logged loudly and the message is
// still marked, matching the at-least-once semantics of the topic.
type Consumer struct {
	group  sarama.ConsumerGroup
	engine *engine.Engine
	topics []string
	log    *logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer joins the configured consumer group for the analysis topic.
func NewConsumer(cfg config.KafkaConfig, eng *engine.Engine, log *logger.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Session.Timeout = 10 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		engine: eng,
		topics: []string{cfg.AnalysisTopic},
		log:    log.Named("analysis_consumer"),
		done:   make(chan struct{}),
	}, nil
}

// Start begins consuming in the background until Stop is called.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.log.Info("starting analysis consumer",
		logger.StringField("topics", fmt.Sprint(c.topics)))

	go func() {
		defer close(c.done)
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.log.Error("kafka consume session failed", logger.ErrorField(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.log.Error("kafka consumer error", logger.ErrorField(err))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop leaves the group and waits for the consume loop to exit.
func (c *Consumer) Stop() error {
	c.log.Info("stopping analysis consumer")
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	<-c.done
	return err
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.log.Info("consumer group session started")
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.log.Info("consumer group session ended")
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			c.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage evaluates one analysis message. All outcomes are terminal
// for the message; retryable storage trouble surfaces in logs and in the
// degraded outcome, and resubmission converges onto the same case by
// fingerprint.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var result domain.AnalysisResult
	if err := json.Unmarshal(message.Value, &result); err != nil {
		c.log.Warn("skipping undecodable analysis message",
			logger.ErrorField(err),
			logger.StringField("topic", message.Topic),
			logger.IntField("partition", int(message.Partition)),
			logger.IntField("offset", int(message.Offset)))
		return
	}

	outcome, err := c.engine.Evaluate(ctx, &result)
	if err != nil {
		c.log.Warn("skipping rejected analysis message",
			logger.ErrorField(err),
			logger.StringField("topic", message.Topic),
			logger.IntField("offset", int(message.Offset)))
		return
	}

	if outcome.Degraded() {
		c.log.Error("analysis evaluated with degraded persistence",
			logger.StringField("content_fingerprint", result.ContentFingerprint.String()),
			logger.NamedErrorField("case_error", outcome.CaseErr),
			logger.NamedErrorField("audit_error", outcome.AuditErr))
	}
}
