package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func get(t *testing.T, s *Server, path string) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body.Status)
	assert.Equal(t, Version, body.Version)
}

func TestReady(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		s := NewServer("0", zaptest.NewLogger(t))
		s.AddCheck("postgres", PingFunc(func(context.Context) error { return nil }))

		code, body := get(t, s, "/ready")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "READY", body.Status)
		assert.Equal(t, "ok", body.Details["postgres"])
		assert.NotEmpty(t, body.Details["timestamp"])
	})

	t.Run("failing check answers 503", func(t *testing.T) {
		s := NewServer("0", zaptest.NewLogger(t))
		s.AddCheck("postgres", PingFunc(func(context.Context) error { return nil }))
		s.AddCheck("nats", PingFunc(func(context.Context) error { return errors.New("nats: connection closed") }))

		code, body := get(t, s, "/ready")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "NOT_READY", body.Status)
		assert.Equal(t, "nats: connection closed", body.Details["nats"])
		assert.Equal(t, "ok", body.Details["postgres"])
	})
}

func TestRegisterMetricsHandler(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.RegisterMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.Start()
	assert.NoError(t, s.Stop(context.Background()))
}
