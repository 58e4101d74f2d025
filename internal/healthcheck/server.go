package healthcheck

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Version is reported by /health.
var Version = "dev"

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server represents a health check HTTP server
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux // Expose mux for adding handlers
	logger     *zap.Logger
	checks     map[string]Pinger
	timeout    time.Duration
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates a new health check server
func NewServer(port string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:     mux,
		logger:  logger,
		checks:  make(map[string]Pinger),
		timeout: 2 * time.Second,
	}

	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)

	return server
}

// AddCheck registers a readiness dependency under name. Call before Start.
func (s *Server) AddCheck(name string, p Pinger) {
	s.checks[name] = p
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

// Start begins the HTTP server
func (s *Server) Start() {
	utils.SafeGo(func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}, func(r interface{}, stack []byte) {
		s.logger.Error("Health check server panicked", zap.Any("panic", r), zap.ByteString("stack", stack))
	})
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "UP",
		Version: Version,
	})
}

// handleReady pings every registered dependency. Any failure answers 503.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp := HealthResponse{
		Status: "READY",
		Details: map[string]string{
			"timestamp": utils.FormatISO8601(utils.Now()),
		},
	}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Details[name] = err.Error()
			resp.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Details[name] = "ok"
	}

	utils.WriteJSONResponse(w, status, resp)
}
