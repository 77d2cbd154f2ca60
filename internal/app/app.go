// Package app assembles the tutor from configuration: the outcome store,
// the knowledge base, the language model gateway, the stage agents and the
// orchestrator. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/mathmentor/internal/agent"
	"github.com/ashita-ai/mathmentor/internal/config"
	"github.com/ashita-ai/mathmentor/internal/knowledge"
	"github.com/ashita-ai/mathmentor/internal/llm"
	"github.com/ashita-ai/mathmentor/internal/memory"
	"github.com/ashita-ai/mathmentor/internal/orchestrator"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
	"github.com/ashita-ai/mathmentor/internal/storage"
	"github.com/ashita-ai/mathmentor/migrations"
)

// App holds the assembled components. Close releases them.
type App struct {
	Store        memory.Store
	Index        knowledge.Index
	Builder      *knowledge.Builder
	Orchestrator *orchestrator.Orchestrator
	Service      *mentor.Service

	closers []func() error
}

// New builds every component described by cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	embedder, err := embedding.New(embeddingConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("embedding provider", "provider", cfg.EmbeddingProvider, "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)

	if a.Store, err = openStore(ctx, cfg, embedder, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	if a.Index, err = openIndex(ctx, cfg, embedder, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Index.Close)
	a.Builder = &knowledge.Builder{
		Index:    a.Index,
		Splitter: knowledge.NewSplitter(cfg.KBChunkSize, cfg.KBChunkOverlap),
		Root:     cfg.KBDocsPath,
		Logger:   logger,
	}

	gw, err := llm.New(gatewayConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("llm gateway", "provider", cfg.LLMProvider, "model", gatewayConfig(cfg).Model)

	mode, err := orchestrator.ParseGuardrailMode(cfg.GuardrailMode)
	if err != nil {
		return nil, err
	}
	stages := orchestrator.Stages{
		Guardrail: agent.NewGuardrail(logger),
		Parser:    agent.NewParser(gw, cfg.ClarityThreshold, logger),
		Router:    agent.NewRouter(gw, logger),
		Solver:    agent.NewSolver(gw, logger),
		Verifier:  agent.NewVerifier(nil, cfg.CorrectThreshold, logger),
		Explainer: agent.NewExplainer(gw, logger),
	}
	if cfg.EnableEvaluator {
		stages.Evaluator = agent.NewEvaluator(gw, logger)
	}
	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		GuardrailMode:    mode,
		ReviewThreshold:  cfg.ReviewThreshold,
		RetrievalK:       cfg.RetrievalK,
		MemoryK:          cfg.MemoryK,
		ParallelPrefetch: cfg.ParallelPrefetch,
	}, stages, a.Index, a.Store, logger)
	if err != nil {
		return nil, err
	}

	a.Service = mentor.New(a.Orchestrator, a.Store, a.Index, mentor.Config{
		RunTimeout: cfg.RunTimeout,
		SimilarK:   cfg.MemoryK,
	}, logger)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config, embedder embedding.Provider, logger *slog.Logger) (memory.Store, error) {
	if !cfg.UsesPostgres() {
		logger.Info("outcome store: sqlite", "path", cfg.SQLitePath)
		return memory.OpenSQLite(ctx, cfg.SQLitePath, embedder, logger)
	}
	db, err := storage.New(ctx, cfg.DatabaseURL, embedder, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app: migrations: %w", err)
	}
	logger.Info("outcome store: postgres")
	return db, nil
}

func openIndex(ctx context.Context, cfg config.Config, embedder embedding.Provider, logger *slog.Logger) (knowledge.Index, error) {
	if !cfg.UsesQdrant() {
		logger.Info("knowledge base: chromem", "path", cfg.KBPath)
		return knowledge.NewChromemIndex(cfg.KBPath, embedder, logger)
	}
	q, err := knowledge.NewQdrantIndex(knowledge.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	}, embedder, logger)
	if err != nil {
		return nil, err
	}
	if err := q.EnsureCollection(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	logger.Info("knowledge base: qdrant", "collection", cfg.QdrantCollection)
	return q, nil
}

func gatewayConfig(cfg config.Config) llm.Config {
	gc := llm.Config{
		Provider:          cfg.LLMProvider,
		Model:             cfg.LLMModel,
		Temperature:       cfg.LLMTemperature,
		MaxTokens:         cfg.LLMMaxTokens,
		Timeout:           cfg.LLMTimeout,
		RequestsPerSecond: cfg.LLMRPS,
		Burst:             cfg.LLMBurst,
	}
	switch cfg.LLMProvider {
	case llm.ProviderAnthropic:
		gc.APIKey = cfg.AnthropicAPIKey
		if gc.Model == "" {
			gc.Model = cfg.AnthropicModel
		}
	case llm.ProviderOpenAI:
		gc.APIKey = cfg.OpenAIAPIKey
		gc.BaseURL = cfg.OpenAIBaseURL
	default:
		gc.BaseURL = cfg.OllamaURL
		if gc.Model == "" {
			gc.Model = cfg.OllamaModel
		}
	}
	return gc
}

func embeddingConfig(cfg config.Config) embedding.Config {
	ec := embedding.Config{
		Provider:   cfg.EmbeddingProvider,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	}
	switch cfg.EmbeddingProvider {
	case embedding.ProviderOpenAI:
		ec.APIKey = cfg.OpenAIAPIKey
		ec.BaseURL = cfg.OpenAIBaseURL
	case embedding.ProviderOllama:
		ec.BaseURL = cfg.OllamaURL
	}
	return ec
}
