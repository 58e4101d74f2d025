package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/internal/jetstream"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // DLQ failure, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionDLQ                          // Max retries reached or fatal error, publish to DLQ then ACK
	ActionTerm                         // Same as DLQ when no DLQ subject is configured
)

// delivery is the part of a JetStream message the consumer settles.
// *nats.Msg implements it.
type delivery interface {
	Metadata() (*nats.MsgMetadata, error)
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

var _ delivery = (*nats.Msg)(nil)

// Consumer reads gateway webhooks from JetStream and routes them.
type Consumer struct {
	client     jetstream.ClientInterface
	router     RouterInterface
	cfg        config.ConsumerNatsConfig
	dlqSubject string
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
}

// NewConsumer creates the gateway events consumer. An empty dlqSubject
// terminates failed events instead of dead-lettering them.
func NewConsumer(client jetstream.ClientInterface, router RouterInterface, cfg config.ConsumerNatsConfig, dlqSubject string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer", cfg.Consumer)))
	return &Consumer{
		client:     client,
		router:     router,
		cfg:        cfg,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// determineAckNakAction decides the fate of a message based on processing result and metadata.
// It returns the action to take and the delay duration if applicable.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
	dlqEnabled bool,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	numDelivered := metadata.NumDelivered
	if numDelivered >= uint64(maxDeliver) || !apperrors.IsRetryable(processingErr) {
		if dlqEnabled {
			return ActionDLQ, 0
		}
		return ActionTerm, 0
	}

	// Attempt n waits base * 2^(n-1), capped.
	delay = nakBaseDelay
	if numDelivered > 1 {
		delay = nakBaseDelay * (1 << (numDelivered - 1))
	}
	if delay > nakMaxDelay || delay <= 0 {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// eventLabel is the metrics label for a subject.
func eventLabel(subject string) string {
	if et, ok := model.MapSubjectToEventType(subject); ok {
		return string(et)
	}
	return "unknown"
}

func (c *Consumer) handleMessage(msg *nats.Msg) {
	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(nats.MsgIdHdr)
	}
	c.process(msg.Subject, msgID, msg.Data, msg)
}

// process routes one delivery and settles it.
func (c *Consumer) process(subject, msgID string, data []byte, msg delivery) {
	startTime := utils.Now()
	eventType := eventLabel(subject)
	consumer := c.cfg.Consumer
	log := logger.FromContext(c.ctx).With(zap.String("subject", subject))

	defer func() {
		observer.ObserveEventProcessingDuration(eventType, consumer, time.Since(startTime))

		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("nats_message_id", msgID),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(eventType, consumer)
			observer.IncEventProcessingAction(eventType, consumer, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(eventType, consumer, "nak_metadata_error", "metadata")
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	internalMetadata := &model.MessageMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		Domain:           metadata.Domain,
		MessageID:        msgID,
		MessageSubject:   subject,
	}

	observer.IncEventsReceived(eventType, consumer)

	log = log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.Uint64("num_delivered", metadata.NumDelivered),
	)
	msgCtx := logger.WithLogger(c.ctx, log)

	processingErr := c.router.Route(msgCtx, internalMetadata, data)

	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay, c.dlqSubject != "")

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		log.Debug("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(eventType, consumer)
		observer.IncEventProcessingAction(eventType, consumer, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncEventsFailed(eventType, consumer)
		observer.IncEventProcessingAction(eventType, consumer, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			log.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionTerm:
		log.Warn("Terminating message", zap.Error(processingErr))
		observer.IncEventsFailed(eventType, consumer)
		observer.IncEventProcessingAction(eventType, consumer, "term", errorType)
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to TERM message", zap.Error(termErr))
		}

	case ActionDLQ:
		observer.IncEventsFailed(eventType, consumer)
		if err := c.publishDLQ(subject, msgID, data, metadata, processingErr); err != nil {
			log.Error("Failed to publish message to DLQ, NAKing original message without delay",
				zap.Error(err), zap.NamedError("processing_error", processingErr))
			observer.IncEventProcessingAction(eventType, consumer, "nak_dlq_publish_fail", "dlq_publish_fail")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
			}
			return
		}
		log.Warn("Message published to DLQ",
			zap.Error(processingErr),
			zap.String("dlq_subject", c.dlqSubject),
			zap.Bool("is_retryable", apperrors.IsRetryable(processingErr)),
		)
		observer.IncEventProcessingAction(eventType, consumer, "dlq_published_ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after successful DLQ publish", zap.Error(ackErr))
		}
	}
}

func (c *Consumer) publishDLQ(subject, msgID string, data []byte, metadata *nats.MsgMetadata, processingErr error) error {
	errorType := "fatal"
	if apperrors.IsRetryable(processingErr) {
		errorType = "retryable"
	}

	original := json.RawMessage(data)
	if !json.Valid(data) {
		quoted, _ := json.Marshal(string(data))
		original = quoted
	}

	payload, err := json.Marshal(model.DLQPayload{
		SourceSubject:   subject,
		OriginalPayload: original,
		Error:           processingErr.Error(),
		ErrorType:       errorType,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       utils.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal DLQ payload: %w", err)
	}

	headers := map[string]string{}
	if msgID != "" {
		headers["Original-Nats-Msg-Id"] = msgID
	}
	return c.client.Publish(c.dlqSubject, payload, headers)
}

// subscribeSubject is the subject the queue subscription uses: the single
// filter subject, or empty when the consumer filters on several.
func (c *Consumer) subscribeSubject() string {
	if len(c.cfg.SubjectList) == 1 {
		return c.cfg.SubjectList[0]
	}
	return ""
}

// Setup ensures the events stream, the dead letter stream and the durable consumer exist.
func (c *Consumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up gateway events consumer...", zap.String("stream", c.cfg.Stream))

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup stream '%s': %w", c.cfg.Stream, err)
	}

	if c.dlqSubject != "" {
		dlqCfg := &nats.StreamConfig{
			Name:      c.cfg.Stream + "_DLQ",
			Subjects:  []string{c.dlqSubject},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
		}
		if err := c.client.SetupStream(c.ctx, dlqCfg); err != nil {
			return fmt.Errorf("failed to setup DLQ stream '%s': %w", dlqCfg.Name, err)
		}
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	if subject := c.subscribeSubject(); subject != "" {
		consumerCfg.FilterSubject = subject
	} else {
		consumerCfg.FilterSubjects = c.cfg.SubjectList
	}

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("Gateway events consumer setup complete")
	return nil
}

// Start sets up and subscribes the consumer.
func (c *Consumer) Start() error {
	if err := c.Setup(); err != nil {
		return err
	}

	sub, err := c.client.SubscribePush(c.subscribeSubject(), c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	logger.FromContext(c.ctx).Info("Gateway events consumer subscribed", zap.String("group", c.cfg.QueueGroup))
	return nil
}

// Stop drains the subscription.
func (c *Consumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining subscription", zap.Error(err))
		}
	}
	c.cancel()
	log.Info("Gateway events consumer stopped")
}
