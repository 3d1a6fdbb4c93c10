// Package events connects the engine to kafka: it consumes completed
// detection analyses from the intake topic and publishes case lifecycle
// events to the case-events topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sony/gobreaker"

	"github.com/sentinelai/risk-engine/internal/engine"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
)

// NewSyncProducer dials the brokers with producer settings tuned for small
// event payloads.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Publisher fans case lifecycle events out to kafka. It implements
// engine.EventSink: publication is best-effort, a failed or breaker-tripped
// publish is logged and dropped, and the originating case operation is
// never failed or delayed beyond one send attempt.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *gobreaker.CircuitBreaker
	log      *logger.Logger
}

// NewPublisher wraps a producer with the case-events breaker.
func NewPublisher(producer sarama.SyncProducer, topic string, log *logger.Logger) *Publisher {
	log = log.Named("case_events")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "case-events-producer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("kafka breaker state changed",
				logger.StringField("breaker", name),
				logger.StringField("from", from.String()),
				logger.StringField("to", to.String()))
		},
	})

	return &Publisher{
		producer: producer,
		topic:    topic,
		breaker:  breaker,
		log:      log,
	}
}

// Publish implements engine.EventSink.
func (p *Publisher) Publish(ctx context.Context, ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("case event not encodable",
			logger.ErrorField(err),
			logger.StringField("event_type", string(ev.Type)))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(partitionKey(ev)),
		Value: sarama.ByteEncoder(data),
	}

	if _, err := p.breaker.Execute(func() (interface{}, error) {
		_, _, sendErr := p.producer.SendMessage(msg)
		return nil, sendErr
	}); err != nil {
		p.log.Warn("case event dropped",
			logger.ErrorField(err),
			logger.StringField("event_type", string(ev.Type)),
			logger.StringField("topic", p.topic))
	}
}

// Close shuts the underlying producer down.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// partitionKey keys every event of one case identically so consumers see
// that case's lifecycle in order.
func partitionKey(ev engine.Event) string {
	switch {
	case ev.Case != nil:
		return ev.Case.ID.String()
	case ev.Note != nil:
		return ev.Note.CaseID.String()
	default:
		return string(ev.Type)
	}
}
