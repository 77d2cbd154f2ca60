// Command reembed-outcomes recomputes the embedding of every stored outcome
// with the currently configured embedding provider. Run it after changing
// MENTOR_EMBEDDING_PROVIDER, MENTOR_EMBEDDING_MODEL or
// MENTOR_EMBEDDING_DIMENSIONS; until then, outcomes embedded under the old
// settings are invisible to similarity search.
//
// Usage:
//
//	go run ./scripts/reembed-outcomes
//
// It reads the same environment (and .env) as the server, so it targets
// Postgres when DATABASE_URL is set and the SQLite file otherwise. Running it
// twice is harmless.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/mathmentor/internal/app"
	"github.com/ashita-ai/mathmentor/internal/config"
	"github.com/ashita-ai/mathmentor/internal/memory"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open stack: %v", err)
	}
	defer func() { _ = a.Close() }()

	r, ok := a.Store.(memory.Reembedder)
	if !ok {
		log.Fatalf("store %T cannot re-embed", a.Store)
	}
	start := time.Now()
	n, err := r.Reembed(ctx)
	if err != nil {
		log.Fatalf("re-embed (after %d rows): %v", n, err)
	}
	fmt.Printf("re-embedded %d outcomes in %s\n", n, time.Since(start).Round(time.Millisecond))
}
