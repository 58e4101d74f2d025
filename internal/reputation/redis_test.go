package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

type getterMock struct {
	mock.Mock
}

func (m *getterMock) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "line:reputation:42", Key(42))
}

func TestRedisOracle_DailyAllowance(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)

	tests := []struct {
		name    string
		result  *redis.StringCmd
		want    int
		wantErr error
	}{
		{name: "hit", result: redis.NewStringResult("90", nil), want: 90},
		{name: "missing key", result: redis.NewStringResult("", redis.Nil), wantErr: apperrors.ErrNotFound},
		{name: "connection error", result: redis.NewStringResult("", errors.New("dial tcp: refused"))},
		{name: "not a number", result: redis.NewStringResult("high", nil)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := new(getterMock)
			client.On("Get", mock.Anything, "line:reputation:7").Return(tc.result)

			got, err := NewRedisOracle(client, time.Second).DailyAllowance(context.Background(), 7)
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.name == "hit":
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			default:
				require.Error(t, err)
				assert.False(t, errors.Is(err, apperrors.ErrNotFound))
			}
			client.AssertExpectations(t)
		})
	}
}

func TestRedisOracle_TimeoutBoundsContext(t *testing.T) {
	client := new(getterMock)
	client.On("Get", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), "line:reputation:1").Return(redis.NewStringResult("10", nil))

	n, err := NewRedisOracle(client, 50*time.Millisecond).DailyAllowance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
