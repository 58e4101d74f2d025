package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	clientmock "github.com/DanielCayresFilho/NoVendx/internal/jetstream/mock"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

const upsertSubject = "gateway.events.messages.upsert.line_5511900000001"

// fakeDelivery records how a message was settled.
type fakeDelivery struct {
	meta     *nats.MsgMetadata
	metaErr  error
	acks     int
	naks     int
	terms    int
	nakDelay time.Duration
}

func (f *fakeDelivery) Metadata() (*nats.MsgMetadata, error) { return f.meta, f.metaErr }
func (f *fakeDelivery) Ack(...nats.AckOpt) error { f.acks++; return nil }
func (f *fakeDelivery) Nak(...nats.AckOpt) error { f.naks++; return nil }
func (f *fakeDelivery) Term(...nats.AckOpt) error { f.terms++; return nil }
func (f *fakeDelivery) NakWithDelay(d time.Duration, _ ...nats.AckOpt) error {
	f.naks++
	f.nakDelay = d
	return nil
}

func delivered(n uint64) *fakeDelivery {
	return &fakeDelivery{meta: &nats.MsgMetadata{
		Sequence:     nats.SequencePair{Stream: 42, Consumer: 7},
		NumDelivered: n,
		Stream:       "GATEWAY_EVENTS",
		Consumer:     "novendx-gateway-events",
	}}
}

func testConsumerConfig() config.ConsumerNatsConfig {
	return config.ConsumerNatsConfig{
		Stream:       "GATEWAY_EVENTS",
		Consumer:     "novendx-gateway-events",
		QueueGroup:   "novendx",
		SubjectList:  []string{"gateway.events.>"},
		MaxAge:       1,
		MaxDeliver:   3,
		NakBaseDelay: time.Second,
		NakMaxDelay:  4 * time.Second,
	}
}

func setupTest(t *testing.T) (*clientmock.ClientMock, *Router) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	return new(clientmock.ClientMock), NewRouter()
}

func upsertBody(t *testing.T) []byte {
	raw, err := json.Marshal(model.NewMessageUpsertEvent("5511900000001", "5511988887777", "oi"))
	require.NoError(t, err)
	return raw
}

func TestConsumer_Setup(t *testing.T) {
	client, router := setupTest(t)
	cfg := testConsumerConfig()
	consumer := NewConsumer(client, router, cfg, "gateway.dlq")

	client.On("SetupStream", mock.Anything, &nats.StreamConfig{
		Name:      "GATEWAY_EVENTS",
		Subjects:  []string{"gateway.events.>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}).Return(nil).Once()
	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "GATEWAY_EVENTS_DLQ" && len(sc.Subjects) == 1 && sc.Subjects[0] == "gateway.dlq"
	})).Return(nil).Once()
	client.On("SetupConsumer", mock.Anything, "GATEWAY_EVENTS", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "novendx-gateway-events" &&
			cc.DeliverGroup == "novendx" &&
			cc.FilterSubject == "gateway.events.>" &&
			cc.MaxDeliver == 3 &&
			cc.AckPolicy == nats.AckExplicitPolicy &&
			cc.DeliverSubject != ""
	})).Return(nil).Once()

	require.NoError(t, consumer.Setup())
	client.AssertExpectations(t)
}

func TestConsumer_Setup_MultipleSubjectsWithoutDLQ(t *testing.T) {
	client, router := setupTest(t)
	cfg := testConsumerConfig()
	cfg.SubjectList = []string{"gateway.events.messages.>", "gateway.events.connection.>"}
	consumer := NewConsumer(client, router, cfg, "")

	client.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil).Once()
	client.On("SetupConsumer", mock.Anything, "GATEWAY_EVENTS", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.FilterSubject == "" && len(cc.FilterSubjects) == 2
	})).Return(nil).Once()

	require.NoError(t, consumer.Setup())
	assert.Empty(t, consumer.subscribeSubject())
	client.AssertExpectations(t)
}

func TestConsumer_Setup_Errors(t *testing.T) {
	t.Run("stream", func(t *testing.T) {
		client, router := setupTest(t)
		client.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("stream boom"))

		err := NewConsumer(client, router, testConsumerConfig(), "").Setup()
		assert.ErrorContains(t, err, "stream boom")
		client.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("consumer", func(t *testing.T) {
		client, router := setupTest(t)
		client.On("SetupStream", mock.Anything, mock.Anything).Return(nil)
		client.On("SetupConsumer", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("consumer boom"))

		err := NewConsumer(client, router, testConsumerConfig(), "").Setup()
		assert.ErrorContains(t, err, "consumer boom")
	})
}

func TestConsumer_StartAndStop(t *testing.T) {
	client, router := setupTest(t)
	cfg := testConsumerConfig()
	consumer := NewConsumer(client, router, cfg, "")

	client.On("SetupStream", mock.Anything, mock.Anything).Return(nil)
	client.On("SetupConsumer", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("SubscribePush", "gateway.events.>", cfg.Consumer, cfg.QueueGroup, cfg.Stream, mock.Anything).
		Return(nil, errors.New("subscribe boom")).Once()

	assert.ErrorContains(t, consumer.Start(), "subscribe boom")

	consumer.Stop()
	assert.Error(t, consumer.ctx.Err(), "stop cancels the consumer context")
}

func TestDetermineAckNakAction(t *testing.T) {
	baseDelay := 1 * time.Second
	maxDelay := 4 * time.Second
	maxDeliver := 5
	retryable := apperrors.NewRetryable(errors.New("transient"), "transient")
	fatal := apperrors.NewFatal(errors.New("fatal"), "fatal")

	tests := []struct {
		name           string
		processingErr  error
		numDelivered   uint64
		dlqEnabled     bool
		expectedAction AckNakAction
		expectedDelay  time.Duration
	}{
		{"success", nil, 1, true, ActionAck, 0},
		{"retryable first attempt", retryable, 1, true, ActionNakDelay, time.Second},
		{"retryable second attempt", retryable, 2, true, ActionNakDelay, 2 * time.Second},
		{"retryable third attempt", retryable, 3, true, ActionNakDelay, 4 * time.Second},
		{"retryable delay capped", retryable, 4, true, ActionNakDelay, 4 * time.Second},
		{"retryable max deliver reached", retryable, 5, true, ActionDLQ, 0},
		{"retryable max deliver without DLQ", retryable, 5, false, ActionTerm, 0},
		{"fatal goes to DLQ", fatal, 1, true, ActionDLQ, 0},
		{"fatal without DLQ terminates", fatal, 1, false, ActionTerm, 0},
		{"plain error is fatal", errors.New("other"), 1, true, ActionDLQ, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metadata := &nats.MsgMetadata{NumDelivered: tt.numDelivered}
			action, delay := determineAckNakAction(tt.processingErr, metadata, maxDeliver, baseDelay, maxDelay, tt.dlqEnabled)
			assert.Equal(t, tt.expectedAction, action)
			assert.Equal(t, tt.expectedDelay, delay)
		})
	}
}

func TestConsumer_Process(t *testing.T) {
	t.Run("success acks with routed metadata", func(t *testing.T) {
		client, router := setupTest(t)
		var got *model.MessageMetadata
		router.Register(model.EventMessagesUpsert, func(_ context.Context, ev *model.GatewayEvent, md *model.MessageMetadata) error {
			got = md
			assert.Equal(t, "line_5511900000001", ev.InstanceID())
			return nil
		})
		consumer := NewConsumer(client, router, testConsumerConfig(), "gateway.dlq")

		d := delivered(1)
		consumer.process(upsertSubject, "", upsertBody(t), d)

		assert.Equal(t, 1, d.acks)
		require.NotNil(t, got)
		assert.Equal(t, "msg-42", got.MessageID)
		assert.Equal(t, uint64(42), got.StreamSequence)
		assert.Equal(t, upsertSubject, got.MessageSubject)
	})

	t.Run("retryable error naks with delay", func(t *testing.T) {
		client, router := setupTest(t)
		router.Register(model.EventMessagesUpsert, func(context.Context, *model.GatewayEvent, *model.MessageMetadata) error {
			return apperrors.NewRetryable(apperrors.ErrDatabase, "db down")
		})
		consumer := NewConsumer(client, router, testConsumerConfig(), "gateway.dlq")

		d := delivered(2)
		consumer.process(upsertSubject, "id-1", upsertBody(t), d)

		assert.Equal(t, 1, d.naks)
		assert.Equal(t, 2*time.Second, d.nakDelay)
		assert.Zero(t, d.acks)
		client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid json is dead lettered then acked", func(t *testing.T) {
		client, router := setupTest(t)
		consumer := NewConsumer(client, router, testConsumerConfig(), "gateway.dlq")

		var payload model.DLQPayload
		client.On("Publish", "gateway.dlq", mock.Anything, map[string]string{"Original-Nats-Msg-Id": "id-9"}).
			Run(func(args mock.Arguments) {
				require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &payload))
			}).Return(nil).Once()

		d := delivered(1)
		consumer.process(upsertSubject, "id-9", []byte("{not json"), d)

		assert.Equal(t, 1, d.acks)
		assert.Equal(t, "fatal", payload.ErrorType)
		assert.Equal(t, upsertSubject, payload.SourceSubject)
		assert.Equal(t, uint64(1), payload.RetryCount)
		assert.Equal(t, 3, payload.MaxRetry)
		assert.JSONEq(t, `"{not json"`, string(payload.OriginalPayload))
		client.AssertExpectations(t)
	})

	t.Run("DLQ publish failure naks", func(t *testing.T) {
		client, router := setupTest(t)
		router.Register(model.EventMessagesUpsert, func(context.Context, *model.GatewayEvent, *model.MessageMetadata) error {
			return apperrors.NewRetryable(apperrors.ErrDatabase, "db down")
		})
		consumer := NewConsumer(client, router, testConsumerConfig(), "gateway.dlq")
		client.On("Publish", "gateway.dlq", mock.Anything, mock.Anything).Return(errors.New("nats down")).Once()

		d := delivered(3)
		consumer.process(upsertSubject, "", upsertBody(t), d)

		assert.Equal(t, 1, d.naks)
		assert.Zero(t, d.nakDelay)
		assert.Zero(t, d.acks)
	})

	t.Run("fatal without DLQ terminates", func(t *testing.T) {
		client, router := setupTest(t)
		consumer := NewConsumer(client, router, testConsumerConfig(), "")

		d := delivered(1)
		consumer.process(upsertSubject, "", []byte("[]"), d)

		assert.Equal(t, 1, d.terms)
		assert.Zero(t, d.acks)
	})

	t.Run("metadata error naks", func(t *testing.T) {
		client, router := setupTest(t)
		consumer := NewConsumer(client, router, testConsumerConfig(), "")

		d := &fakeDelivery{metaErr: nats.ErrNotJSMessage}
		consumer.process(upsertSubject, "", upsertBody(t), d)

		assert.Equal(t, 1, d.naks)
	})

	t.Run("panic naks", func(t *testing.T) {
		client, router := setupTest(t)
		router.Register(model.EventMessagesUpsert, func(context.Context, *model.GatewayEvent, *model.MessageMetadata) error {
			panic("handler exploded")
		})
		consumer := NewConsumer(client, router, testConsumerConfig(), "gateway.dlq")

		d := delivered(1)
		assert.NotPanics(t, func() { consumer.process(upsertSubject, "", upsertBody(t), d) })
		assert.Equal(t, 1, d.naks)
		assert.Zero(t, d.acks)
	})
}
