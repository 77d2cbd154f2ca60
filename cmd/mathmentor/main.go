package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/mathmentor/api"
	"github.com/ashita-ai/mathmentor/internal/app"
	"github.com/ashita-ai/mathmentor/internal/auth"
	"github.com/ashita-ai/mathmentor/internal/config"
	"github.com/ashita-ai/mathmentor/internal/knowledge"
	"github.com/ashita-ai/mathmentor/internal/mcp"
	"github.com/ashita-ai/mathmentor/internal/memory"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/ratelimit"
	"github.com/ashita-ai/mathmentor/internal/server"
	"github.com/ashita-ai/mathmentor/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("MENTOR_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("mathmentor starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Build the knowledge base at startup. A missing docs directory leaves
	// the index as it is.
	if _, statErr := os.Stat(cfg.KBDocsPath); statErr == nil {
		if _, err := a.Builder.Build(ctx); err != nil {
			return fmt.Errorf("knowledge base: %w", err)
		}
	} else {
		logger.Warn("knowledge base: docs directory not found, skipping build", "path", cfg.KBDocsPath)
	}

	if cfg.KBWatch {
		w, err := knowledge.NewWatcher(a.Builder, 500*time.Millisecond)
		if err != nil {
			return fmt.Errorf("knowledge watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("knowledge watcher: %w", err)
		}
		defer func() { _ = w.Stop() }()
		go logWatchEvents(w, logger)
	}

	if p, ok := a.Store.(memory.RunPurger); ok && cfg.RunRetention > 0 {
		go memory.RunRetention(ctx, p, cfg.RunRetention, cfg.RetentionInterval, logger)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	keys, err := auth.NewKeyRing(map[model.Role]string{
		model.RoleAdmin:    cfg.AdminAPIKey,
		model.RoleReviewer: cfg.ReviewerAPIKey,
		model.RoleStudent:  cfg.StudentAPIKey,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if keys.Len() == 0 {
		logger.Warn("no API keys configured; POST /auth/token will reject every request")
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}
	defer func() { _ = limiter.Close() }()

	mcpSrv := mcp.New(a.Service, logger, version)

	srv := server.New(server.Config{
		Service:             a.Service,
		JWTMgr:              jwtMgr,
		Keys:                keys,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// In-flight solves may run up to the run timeout; give them that long.
	logger.Info("mathmentor shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RunTimeout+5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("mathmentor stopped")
	return nil
}

func logWatchEvents(w *knowledge.Watcher, logger *slog.Logger) {
	for ev := range w.Events() {
		switch {
		case ev.Err != nil:
			logger.Warn("knowledge: reindex failed", "path", ev.Path, "error", ev.Err)
		case ev.Removed:
			logger.Info("knowledge: document removed", "path", ev.Path)
		default:
			logger.Info("knowledge: document reindexed", "path", ev.Path, "chunks", ev.Chunks)
		}
	}
}
