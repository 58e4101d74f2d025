package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupTestLogger(t *testing.T) {
	original := logger.Log
	logger.Log = zaptest.NewLogger(t)
	t.Cleanup(func() { logger.Log = original })
}

func TestSafeGo(t *testing.T) {
	setupTestLogger(t)

	done := make(chan struct{})
	SafeGo(func() { close(done) }, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function did not execute in time")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var recovered interface{}
	SafeGo(func() {
		panic("test panic")
	}, func(r interface{}, stack []byte) {
		defer wg.Done()
		recovered = r
		assert.NotEmpty(t, stack)
	})
	wg.Wait()

	assert.Equal(t, "test panic", recovered)
}

func TestRecoverToError(t *testing.T) {
	setupTestLogger(t)
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	require.NoError(t, RecoverToError(ctx, "noop", func() error { return nil }))

	sentinel := errors.New("boom")
	assert.ErrorIs(t, RecoverToError(ctx, "plain", func() error { return sentinel }), sentinel)

	err := RecoverToError(ctx, "assign operator 7", func() error { panic("nil line") })
	require.Error(t, err)
	assert.Equal(t, "panic recovered during assign operator 7: nil line", err.Error())
}
