package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"github.com/DanielCayresFilho/NoVendx/internal/jetstream"
)

// ClientMock is a mock implementation of the JetStream Client
type ClientMock struct {
	mock.Mock
}

// Ensure ClientMock implements jetstream.ClientInterface
var _ jetstream.ClientInterface = (*ClientMock)(nil)

// SetupStream mocks the SetupStream method
func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	args := m.Called(ctx, streamConfig)
	return args.Error(0)
}

// SetupConsumer mocks the SetupConsumer method
func (m *ClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	args := m.Called(ctx, streamName, consumerConfig)
	return args.Error(0)
}

// SubscribePush mocks the SubscribePush method
func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

// Publish mocks the Publish method
func (m *ClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

// NatsConn mocks the NatsConn method. A nil return is allowed.
func (m *ClientMock) NatsConn() *nats.Conn {
	args := m.Called()
	conn, _ := args.Get(0).(*nats.Conn)
	return conn
}

// Close mocks the Close method
func (m *ClientMock) Close() {
	m.Called()
}
