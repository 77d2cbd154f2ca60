// Package server implements the mathmentor HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mathmentor/internal/auth"
	"github.com/ashita-ai/mathmentor/internal/ctxutil"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/ratelimit"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
)

// Server is the mathmentor HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and configuration for creating a Server.
// Limiter, MCPServer and OpenAPISpec are optional.
type Config struct {
	Service *mentor.Service
	JWTMgr  *auth.JWTManager
	Keys    *auth.KeyRing
	Logger  *slog.Logger

	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	h := &Handlers{
		svc:                 cfg.Service,
		jwtMgr:              cfg.JWTMgr,
		keys:                cfg.Keys,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		openapiSpec:         cfg.OpenAPISpec,
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	reqIDFunc := func(r *http.Request) string { return ctxutil.RequestID(r.Context()) }
	solveRL := ratelimit.Middleware(limiter, subjectKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(limiter, func(r *http.Request) string {
		return "auth:" + ratelimit.IPKeyFunc(r)
	}, reqIDFunc, cfg.Logger)

	student := requireRole(model.RoleStudent)
	reviewer := requireRole(model.RoleReviewer)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	mux.Handle("POST /v1/solve", student(solveRL(http.HandlerFunc(h.HandleSolve))))
	mux.Handle("GET /v1/runs/{run_id}", student(http.HandlerFunc(h.HandleGetRun)))
	mux.Handle("POST /v1/runs/{run_id}/clarify", student(solveRL(http.HandlerFunc(h.HandleClarify))))
	mux.Handle("POST /v1/runs/{run_id}/approve", reviewer(http.HandlerFunc(h.HandleApprove)))
	mux.Handle("POST /v1/outcomes/{run_id}/feedback", student(http.HandlerFunc(h.HandleFeedback)))
	mux.Handle("GET /v1/similar", student(http.HandlerFunc(h.HandleSimilar)))
	mux.Handle("GET /v1/stats", student(http.HandlerFunc(h.HandleStats)))

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", student(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Outermost first: request ID, security headers, tracing, logging, auth,
	// recovery, handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPMetrics(), handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// subjectKeyFunc rate limits per token subject. Admins are exempt.
func subjectKeyFunc(r *http.Request) string {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil || model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "solve:" + claims.Subject
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
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
