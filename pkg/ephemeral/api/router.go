package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/broadcast"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
)

// Metrics is what the front door reports to and serves on /metrics
type Metrics interface {
	MetricsCollector
	ConnectionTracker
	Handler() http.Handler
}

// Server assembles the HTTP and WebSocket surface of the service
type Server struct {
	service      ephemeral.Service
	broadcaster  *broadcast.Broadcaster
	blobs        *presigned.Handlers
	metrics      Metrics
	logger       *slog.Logger
	pingInterval time.Duration
	pongWait     time.Duration
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithBroadcaster enables live updates on /ws/hubs/{id}
func WithBroadcaster(b *broadcast.Broadcaster) ServerOption {
	return func(s *Server) {
		s.broadcaster = b
	}
}

// WithBlobHandlers serves presigned blob URLs for backends without their own
func WithBlobHandlers(h *presigned.Handlers) ServerOption {
	return func(s *Server) {
		s.blobs = h
	}
}

// WithMetrics records request metrics and serves them on /metrics
func WithMetrics(m Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger for request logs and handler errors
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHeartbeat sets the live connection ping interval and pong timeout
func WithHeartbeat(pingInterval, pongWait time.Duration) ServerOption {
	return func(s *Server) {
		if pingInterval > 0 && pongWait > pingInterval {
			s.pingInterval = pingInterval
			s.pongWait = pongWait
		}
	}
}

// NewServer creates a Server around service
func NewServer(service ephemeral.Service, opts ...ServerOption) *Server {
	s := &Server{
		service:      service,
		logger:       slog.Default(),
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the root router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.middleware().Wrap)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Mount("/hubs", NewHubHandler(s.service, s.logger).Routes())

	if s.broadcaster != nil {
		live := NewLiveHandler(s.service, s.broadcaster, s.logger)
		live.pingInterval = s.pingInterval
		live.pongWait = s.pongWait
		if s.metrics != nil {
			live.tracker = s.metrics
		}
		r.Method(http.MethodGet, "/ws/hubs/{id}", live)
	}

	if s.blobs != nil {
		s.blobs.Mount(r)
	}

	return r
}

// middleware is the stack every request passes through, outermost first
func (s *Server) middleware() *MiddlewareChain {
	chain := NewMiddlewareChain(RequestIDMiddleware, middleware.RealIP, LoggingMiddleware(s.logger))
	if s.metrics != nil {
		chain.Then(MetricsMiddleware(s.metrics))
	}
	return chain.Then(RecoveryMiddleware(s.logger))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check failed", "err", err)
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Service temporarily unavailable")
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}
