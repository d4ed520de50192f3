package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/vitalia-ai/vitalia/internal/auth"
	"github.com/vitalia-ai/vitalia/internal/ratelimit"
)

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Runner Runner
	Store  Store
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	AdminAPIKey         string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) (*Server, error) {
	h, err := NewHandlers(HandlersDeps{
		Runner:      cfg.Runner,
		Store:       cfg.Store,
		JWTMgr:      cfg.JWTMgr,
		Logger:      cfg.Logger,
		Version:     cfg.Version,
		AdminAPIKey: cfg.AdminAPIKey,
	})
	if err != nil {
		return nil, err
	}

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Authenticated traffic is limited per client, token issuance per IP.
	clientRL := ratelimit.Middleware(cfg.Limiter, clientKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /v1/auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Analysis runs.
	mux.Handle("POST /v1/runs", clientRL(http.HandlerFunc(h.HandleRun)))
	mux.Handle("POST /v1/runs/stream", clientRL(http.HandlerFunc(h.HandleRunStream)))

	// Continuity records.
	mux.Handle("GET /v1/memory/{user_id}", clientRL(http.HandlerFunc(h.HandleGetMemory)))
	mux.Handle("PATCH /v1/memory/{user_id}/context", clientRL(http.HandlerFunc(h.HandleUpdateContext)))
	mux.Handle("GET /v1/memory/{user_id}/recall", clientRL(http.HandlerFunc(h.HandleRecall)))

	// Audit trail.
	mux.Handle("GET /v1/audit/{user_id}", clientRL(http.HandlerFunc(h.HandleListAudit)))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → body cap → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}, nil
}

// clientKeyFunc extracts the authenticated client ID for rate limiting,
// falling back to the client IP before auth ran.
func clientKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.ClientID
	}
	return ratelimit.IPKeyFunc(r)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
