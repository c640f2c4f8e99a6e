package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ledger1-ai/crm-official-sub000/internal/autogen"
	"github.com/Ledger1-ai/crm-official-sub000/internal/config"
	"github.com/Ledger1-ai/crm-official-sub000/internal/db"
	"github.com/Ledger1-ai/crm-official-sub000/internal/fetch"
	"github.com/Ledger1-ai/crm-official-sub000/internal/llm"
	"github.com/Ledger1-ai/crm-official-sub000/internal/sourcing"
)

// browserTimeout bounds one headless render of a homepage.
const browserTimeout = 30 * time.Second

// providers holds the sourcing providers that could be configured. A nil
// provider makes jobs that enable it record it as unavailable.
type providers struct {
	agent    sourcing.Provider
	serp     sourcing.Provider
	llm      llm.Client
	renderer *fetch.Renderer
}

func (p *providers) Close() {
	if p.llm != nil {
		_ = p.llm.Close()
	}
	if p.renderer != nil {
		p.renderer.Close()
	}
}

// buildProviders creates the providers the configuration has credentials for.
func buildProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*providers, error) {
	p := &providers{}

	if cfg.AgentConfigured() {
		client, err := llm.NewGeminiClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		p.llm = client
		// A nil *Renderer must not become a non-nil interface.
		var renderer fetch.PageRenderer
		if cfg.UseBrowser {
			p.renderer = fetch.NewRenderer(browserTimeout, cfg.EnrichConcurrency, logger.Named("browser"))
			renderer = p.renderer
		}
		p.agent = sourcing.NewAgentProvider(client, sourcing.AgentOptions{
			Homepages:         fetch.NewFetcher(nil, renderer, logger.Named("fetch")),
			EnrichConcurrency: cfg.EnrichConcurrency,
			Logger:            logger.Named("agent"),
		})
	} else {
		logger.Warn("GEMINI_API_KEY not set, AI agent provider disabled")
	}

	if cfg.SERPConfigured() {
		searcher, err := sourcing.NewGoogleSearcher(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create search client: %w", err)
		}
		p.serp = sourcing.NewSERPProvider(searcher, sourcing.SERPOptions{
			QPS:         cfg.SERPQPS,
			Concurrency: cfg.SERPConcurrency,
			Logger:      logger.Named("serp"),
		})
	} else {
		logger.Warn("SEARCH_API_KEY/SEARCH_ENGINE_ID not set, SERP provider disabled")
	}

	return p, nil
}

// newOrchestrator wires the orchestrator to PostgreSQL and the providers.
func newOrchestrator(database *db.DB, p *providers, cfg *config.Config, logger *zap.Logger) *autogen.Orchestrator {
	return autogen.New(database, database, p.agent, p.serp, autogen.Options{
		ProviderTimeout:   cfg.ProviderTimeout.Std(),
		MaxConcurrentJobs: int64(cfg.MaxConcurrentJobs),
		StaleJobAfter:     cfg.StaleJobAfter.Std(),
		Logger:            logger.Named("autogen"),
	})
}

// connect opens the database named by the configuration.
func connect(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}
