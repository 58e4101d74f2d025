package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	_, err := RequestIDFromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoRequestIDInContext)

	ctx := WithRequestID(context.Background(), "req-1")
	id, err := RequestIDFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	assert.NotEmpty(t, id)

	same, again := EnsureRequestID(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)
}

func TestOperatorID(t *testing.T) {
	_, ok := OperatorIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := OperatorIDFromContext(WithOperatorID(context.Background(), 42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}
