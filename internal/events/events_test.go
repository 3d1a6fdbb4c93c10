package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/engine"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
	"github.com/sentinelai/risk-engine/internal/repository/memory"
)

func TestPublisherSendsLifecycleEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, producer.Close()) }()

	caseID := uuid.New()
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev engine.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		assert.Equal(t, engine.EventCaseOpened, ev.Type)
		require.NotNil(t, ev.Case)
		assert.Equal(t, caseID, ev.Case.ID)
		return nil
	})

	pub := NewPublisher(producer, "risk.case.events", logger.NewNop())
	pub.Publish(context.Background(), engine.Event{
		Type:       engine.EventCaseOpened,
		Case:       &domain.Case{ID: caseID, Status: domain.CaseStatusOpen},
		OccurredAt: time.Now().UTC(),
	})
}

func TestPublisherBreakerStopsHammeringDeadBroker(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, producer.Close()) }()

	brokerDown := errors.New("dial tcp: connection refused")
	for i := 0; i < 5; i++ {
		producer.ExpectSendMessageAndFail(brokerDown)
	}

	pub := NewPublisher(producer, "risk.case.events", logger.NewNop())
	ev := engine.Event{
		Type: engine.EventCaseUpdated,
		Case: &domain.Case{ID: uuid.New()},
	}

	// Five consecutive failures trip the breaker; the sixth publish must
	// not reach the producer at all, or Close would report an unmet
	// expectation mismatch.
	for i := 0; i < 6; i++ {
		pub.Publish(context.Background(), ev)
	}
}

func TestPartitionKey(t *testing.T) {
	caseID := uuid.New()

	t.Run("case events key by case", func(t *testing.T) {
		key := partitionKey(engine.Event{Type: engine.EventCaseOpened, Case: &domain.Case{ID: caseID}})
		assert.Equal(t, caseID.String(), key)
	})

	t.Run("note events key by owning case", func(t *testing.T) {
		key := partitionKey(engine.Event{Type: engine.EventNoteAdded, Note: &domain.CaseNote{CaseID: caseID}})
		assert.Equal(t, caseID.String(), key)
	})

	t.Run("bare events fall back to type", func(t *testing.T) {
		key := partitionKey(engine.Event{Type: engine.EventCaseTransitioned})
		assert.Equal(t, string(engine.EventCaseTransitioned), key)
	})
}

func TestConsumerHandleMessage(t *testing.T) {
	newConsumer := func() (*Consumer, *memory.Store) {
		store := memory.New()
		eng := engine.New(store, store, nil, config.EngineConfig{}, logger.NewNop())
		return &Consumer{engine: eng, log: logger.NewNop()}, store
	}
	ctx := context.Background()

	t.Run("valid analysis drives an evaluation", func(t *testing.T) {
		c, store := newConsumer()

		payload, err := json.Marshal(&domain.AnalysisResult{
			AIProbability:      0.2,
			FraudProbability:   0.75,
			ContentFingerprint: fingerprint.ComputeString("queued submission"),
			SourceChannel:      domain.ChannelText,
		})
		require.NoError(t, err)

		c.handleMessage(ctx, &sarama.ConsumerMessage{
			Topic: "detection.analysis.completed",
			Value: payload,
		})

		cases, err := store.List(ctx, domain.CaseFilter{})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, domain.CaseStatusEscalated, cases[0].Status)

		entries, err := store.Query(ctx, domain.AuditFilter{})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("undecodable message is skipped", func(t *testing.T) {
		c, store := newConsumer()

		c.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte("{nope")})

		entries, err := store.Query(ctx, domain.AuditFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("contract-violating message is skipped", func(t *testing.T) {
		c, store := newConsumer()

		payload, err := json.Marshal(map[string]any{
			"ai_probability":    1.8,
			"fraud_probability": 0.4,
			"source_channel":    "TEXT",
		})
		require.NoError(t, err)

		c.handleMessage(ctx, &sarama.ConsumerMessage{Value: payload})

		entries, err := store.Query(ctx, domain.AuditFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
