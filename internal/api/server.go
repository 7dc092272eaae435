// Package api exposes the chat backend as a JSON/SSE HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datachat-io/datachat/internal/chat"
	"github.com/datachat-io/datachat/internal/gateway"
	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
	"github.com/datachat-io/datachat/internal/tabular"
)

// Controller is the chat surface the handlers need. Implemented by
// *chat.Controller.
type Controller interface {
	ListSessions(ctx context.Context, limit, offset int) ([]*session.Session, error)
	CreateSession(ctx context.Context, title string) (*session.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, id uuid.UUID) ([]*session.Message, error)
	AttachDataset(ctx context.Context, id uuid.UUID, text string, kind tabular.Kind) (uuid.UUID, *tabular.Context, error)
	Send(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
	SendStream(ctx context.Context, req chat.TurnRequest, emit func(gateway.Event) error) (*chat.TurnResult, error)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger      log.Logger
	Controller  Controller    // Required
	Pool        *pgxpool.Pool // Optional: nil disables pool stats in /ready
	CORSOrigins []string
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int  // Rate limiter burst per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("controller is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	sh := &sessionHandler{controller: cfg.Controller, logger: logger}
	ch := &chatHandler{controller: cfg.Controller, logger: logger}
	dh := &datasetHandler{controller: cfg.Controller, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sh.messages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)

	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	mux.HandleFunc("POST /api/v1/datasets", dh.attach)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID sits above Logging so request_id is available in log
	// attributes; CORS sits above RateLimit so preflight OPTIONS gets
	// its headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
