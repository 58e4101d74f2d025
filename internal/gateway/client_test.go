package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/storage/memory"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

type captured struct {
	Path   string
	APIKey string
	Body   map[string]interface{}
}

func newGatewayServer(t *testing.T, status int, seen chan<- captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			seen <- captured{Path: r.URL.Path, APIKey: r.Header.Get("apikey"), Body: body}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLine() *model.Line {
	return model.NewLine(&model.Line{ID: 7, Phone: "+55 (11) 90000-0001", GatewayName: "evo-main"})
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "line_5511900000001", InstanceName("+55 (11) 90000-0001"))
}

func TestClient_SendTextUsesRegisteredInstance(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	ctx := context.Background()
	seen := make(chan captured, 1)
	srv := newGatewayServer(t, http.StatusCreated, seen)

	store := memory.New()
	require.NoError(t, store.SaveGatewayInstance(ctx, &model.GatewayInstance{
		Name: "evo-main", BaseURL: srv.URL + "/", APIKey: "instance-key", Active: true,
	}))
	client := NewClient(config.GatewayConfig{BaseURL: "http://unused.invalid", APIKey: "fallback"}, store)

	require.NoError(t, client.SendText(ctx, testLine(), "+55 11 98888-7777", "Olá"))

	got := <-seen
	assert.Equal(t, "/message/sendText/line_5511900000001", got.Path)
	assert.Equal(t, "instance-key", got.APIKey)
	assert.Equal(t, map[string]interface{}{"number": "5511988887777", "text": "Olá"}, got.Body)
}

func TestClient_SendMediaFallsBackToConfig(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	seen := make(chan captured, 1)
	srv := newGatewayServer(t, http.StatusOK, seen)
	client := NewClient(config.GatewayConfig{BaseURL: srv.URL, APIKey: "fallback"}, memory.New())

	err := client.SendMedia(context.Background(), testLine(), "5511988887777", Media{
		Type: "image", URL: "https://cdn.example.com/a.png", Caption: "veja",
	})
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, "/message/sendMedia/line_5511900000001", got.Path)
	assert.Equal(t, "fallback", got.APIKey)
	assert.Equal(t, "image", got.Body["mediatype"])
	assert.Equal(t, "https://cdn.example.com/a.png", got.Body["mediaUrl"])
	assert.Equal(t, "veja", got.Body["caption"])
}

func TestClient_ErrorClassification(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newGatewayServer(t, tc.status, nil)
			client := NewClient(config.GatewayConfig{BaseURL: srv.URL}, nil)

			err := client.SendText(ctx, testLine(), "5511988887777", "oi")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrGateway)
			assert.Equal(t, tc.retryable, apperrors.IsRetryable(err))
			assert.Equal(t, !tc.retryable, apperrors.IsFatal(err))
		})
	}
}

func TestClient_FatalBeforeRequest(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	ctx := context.Background()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	store := memory.New()
	require.NoError(t, store.SaveGatewayInstance(ctx, &model.GatewayInstance{
		Name: "evo-main", BaseURL: srv.URL, APIKey: "k", Active: false,
	}))

	t.Run("inactive instance", func(t *testing.T) {
		err := NewClient(config.GatewayConfig{BaseURL: srv.URL}, store).SendText(ctx, testLine(), "5511988887777", "oi")
		assert.True(t, apperrors.IsFatal(err))
		assert.ErrorIs(t, err, apperrors.ErrGateway)
	})

	t.Run("no gateway configured", func(t *testing.T) {
		err := NewClient(config.GatewayConfig{}, nil).SendText(ctx, testLine(), "5511988887777", "oi")
		assert.True(t, apperrors.IsFatal(err))
	})

	t.Run("invalid recipient", func(t *testing.T) {
		err := NewClient(config.GatewayConfig{BaseURL: srv.URL}, nil).SendText(ctx, testLine(), "123", "oi")
		assert.True(t, apperrors.IsFatal(err))
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("empty text", func(t *testing.T) {
		err := NewClient(config.GatewayConfig{BaseURL: srv.URL}, nil).SendText(ctx, testLine(), "5511988887777", "")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("media without url", func(t *testing.T) {
		err := NewClient(config.GatewayConfig{BaseURL: srv.URL}, nil).SendMedia(ctx, testLine(), "5511988887777", Media{Type: "image"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(config.GatewayConfig{BaseURL: url, RequestTimeout: time.Second}, nil)
	err := client.SendText(context.Background(), testLine(), "5511988887777", "oi")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.True(t, errors.Is(err, apperrors.ErrGateway))
}
