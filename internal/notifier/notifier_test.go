package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanielCayresFilho/NoVendx/internal/model"
	storagemock "github.com/DanielCayresFilho/NoVendx/internal/storage/mock"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

type recordingConn struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (c *recordingConn) Send(n model.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *recordingConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, n := range c.sent {
		out[i] = n.Event
	}
	return out
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishMsg(msg *nats.Msg) error {
	return m.Called(msg).Error(0)
}

func TestRegistry_ConnectDisconnect(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	r := NewRegistry(nil)
	ctx := context.Background()

	first := &recordingConn{}
	disconnectFirst := r.Connect(1, first)
	assert.True(t, r.IsConnected(1))

	second := &recordingConn{}
	disconnectSecond := r.Connect(1, second)
	assert.Equal(t, 1, r.Len())

	// A stale disconnect must not drop the newer connection.
	disconnectFirst()
	assert.True(t, r.IsConnected(1))

	r.NotifyOperator(ctx, 1, model.NotifyLineAssigned, nil)
	assert.Empty(t, first.events())
	assert.Equal(t, []string{model.NotifyLineAssigned}, second.events())

	disconnectSecond()
	assert.False(t, r.IsConnected(1))
	assert.Equal(t, 0, r.Len())

	// Offline operators are skipped silently.
	r.NotifyOperator(ctx, 1, model.NotifyLineAssigned, nil)
	assert.Len(t, second.events(), 1)
}

func TestRegistry_SendErrorIsSwallowed(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	r := NewRegistry(nil)
	r.Connect(3, &recordingConn{err: errors.New("socket closed")})

	assert.NotPanics(t, func() {
		r.NotifyOperator(context.Background(), 3, model.NotifyNewMessage, nil)
	})
}

func TestRegistry_NotifySegmentSupervisors(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	store := new(storagemock.StoreMock)
	store.On("ListSupervisors", mock.Anything, int64(5)).
		Return([]model.Operator{{ID: 10}, {ID: 11}}, nil)

	r := NewRegistry(store)
	online := &recordingConn{}
	r.Connect(10, online)
	operator := &recordingConn{}
	r.Connect(20, operator)

	r.NotifySegmentSupervisors(context.Background(), 5, model.NotifyLineReallocated, model.LineChangePayload{OperatorID: 20})

	assert.Equal(t, []string{model.NotifyLineReallocated}, online.events())
	assert.Empty(t, operator.events())
	store.AssertExpectations(t)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			disconnect := r.Connect(id, &recordingConn{})
			r.NotifyOperator(context.Background(), id, model.NotifyNewMessage, nil)
			disconnect()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestNATSPublisher_Subjects(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	pub := new(publisherMock)
	var captured []*nats.Msg
	pub.On("PublishMsg", mock.Anything).Run(func(args mock.Arguments) {
		captured = append(captured, args.Get(0).(*nats.Msg))
	}).Return(nil)

	p := NewNATSPublisher(pub, "")
	p.NotifyOperator(context.Background(), 7, model.NotifyLineUnavailable, model.LineChangePayload{OperatorID: 7, Reason: "none"})
	p.NotifySegmentSupervisors(context.Background(), 3, model.NotifyLineReallocated, nil)

	require.Len(t, captured, 2)
	assert.Equal(t, "events.operator.7", captured[0].Subject)
	assert.Equal(t, "events.segment.3.supervisors", captured[1].Subject)
	assert.NotEmpty(t, captured[0].Header.Get(nats.MsgIdHdr))
	assert.Equal(t, model.NotifyLineUnavailable, captured[0].Header.Get("Event"))

	var body struct {
		Event string                  `json:"event"`
		Data  model.LineChangePayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(captured[0].Data, &body))
	assert.Equal(t, model.NotifyLineUnavailable, body.Event)
	assert.Equal(t, int64(7), body.Data.OperatorID)
}

func TestNATSPublisher_PublishErrorIsSwallowed(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	pub := new(publisherMock)
	pub.On("PublishMsg", mock.Anything).Return(nats.ErrConnectionClosed)

	assert.NotPanics(t, func() {
		NewNATSPublisher(pub, "push").NotifyOperator(context.Background(), 1, model.NotifyNewMessage, nil)
	})
	pub.AssertNumberOfCalls(t, "PublishMsg", 1)
}

type countingNotifier struct {
	operator, supervisors int
}

func (c *countingNotifier) NotifyOperator(context.Context, int64, string, interface{}) { c.operator++ }

func (c *countingNotifier) NotifySegmentSupervisors(context.Context, int64, string, interface{}) {
	c.supervisors++
}

func TestMulti(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := Multi{a, nil, b, Nop{}}
	m.NotifyOperator(context.Background(), 1, "x", nil)
	m.NotifySegmentSupervisors(context.Background(), 1, "x", nil)
	assert.Equal(t, 1, a.operator)
	assert.Equal(t, 1, b.supervisors)
}
