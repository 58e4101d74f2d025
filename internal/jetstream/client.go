// Package jetstream wraps the NATS connection and the JetStream setup used by
// the gateway event consumer and the notification publisher.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// Client wraps NATS JetStream functionality
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient connects to NATS and opens a JetStream context. The connection
// keeps reconnecting in the background.
func NewClient(url, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{nc: nc, js: js}, nil
}

// SetupStream creates the stream, or updates it when its core settings differ.
func (c *Client) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", streamConfig.Name))

	stream, err := c.js.StreamInfo(streamConfig.Name)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamConfig.Name, err)
	}

	switch {
	case stream == nil:
		if _, err := c.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to add stream '%s': %w", streamConfig.Name, err)
		}
		log.Info("Created stream", zap.Strings("subjects", streamConfig.Subjects))
	case !streamConfigEqual(stream.Config, *streamConfig):
		if _, err := c.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("failed to update stream '%s': %w", streamConfig.Name, err)
		}
		log.Info("Updated stream", zap.Strings("subjects", streamConfig.Subjects))
	default:
		log.Debug("Stream up to date")
	}
	return nil
}

// SetupConsumer creates the durable consumer, or recreates it when its core settings differ.
func (c *Client) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", streamName), zap.String("consumer", consumerConfig.Durable))

	consumer, err := c.js.ConsumerInfo(streamName, consumerConfig.Durable)
	if err != nil && !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to get consumer info for stream '%s', consumer '%s': %w", streamName, consumerConfig.Durable, err)
	}

	if consumer != nil {
		if consumerConfigEqual(consumer.Config, *consumerConfig) {
			log.Debug("Consumer up to date")
			return nil
		}
		log.Warn("Consumer config mismatch, recreating",
			zap.String("provided_cfg", fmt.Sprintf("%+v", consumerConfig)),
			zap.String("current_cfg", fmt.Sprintf("%+v", consumer.Config)))
		if err := c.js.DeleteConsumer(streamName, consumerConfig.Durable); err != nil {
			return fmt.Errorf("failed to delete consumer '%s' from stream '%s' for update: %w", consumerConfig.Durable, streamName, err)
		}
	}

	if _, err := c.js.AddConsumer(streamName, consumerConfig); err != nil {
		return fmt.Errorf("failed to add consumer '%s' to stream '%s': %w", consumerConfig.Durable, streamName, err)
	}
	log.Info("Created consumer",
		zap.String("deliver_subject", consumerConfig.DeliverSubject),
		zap.String("queue_group", consumerConfig.DeliverGroup),
		zap.Strings("filter_subjects", consumerConfig.FilterSubjects))
	return nil
}

// SubscribePush creates a push-based consumer subscription
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(
		subject,
		group,
		handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Publish publishes a message to a subject with optional headers
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Add(k, v)
	}

	if _, err := c.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// NatsConn returns the underlying *nats.Conn
func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

// Close drains the connection, falling back to a hard close.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}

// streamConfigEqual compares the stream settings this service manages.
func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Storage == b.Storage &&
		equalStrings(a.Subjects, b.Subjects)
}

// consumerConfigEqual compares the consumer settings this service manages.
func consumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.DeliverGroup == b.DeliverGroup &&
		a.MaxDeliver == b.MaxDeliver &&
		a.FilterSubject == b.FilterSubject &&
		equalStrings(a.FilterSubjects, b.FilterSubjects)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
