package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/academic-rag/internal/config"
	"github.com/kirillkom/academic-rag/internal/core/ports"
	"github.com/kirillkom/academic-rag/internal/core/usecase"
	"github.com/kirillkom/academic-rag/internal/infrastructure/catalog"
	catalogpg "github.com/kirillkom/academic-rag/internal/infrastructure/catalog/postgres"
	"github.com/kirillkom/academic-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/academic-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/academic-rag/internal/infrastructure/rerank/crossenc"
	"github.com/kirillkom/academic-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/academic-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/academic-rag/internal/observability/metrics"
)

const serviceName = "academic-rag-api"

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics
	Limiter *rate.Limiter

	Agent    *usecase.Agent
	Health   ports.HealthChecker
	Catalogs ports.CatalogReader

	events  *nats.Events
	reload  func(context.Context) error
	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := catalogpg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	loader := catalogpg.NewCourseLoader(db)
	catalogs := catalog.NewProvider(loader, logger)
	if err := catalogs.Load(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	events, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init corpus events: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)
	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedModel,
		executor,
		ollama.WithGenerationTimeout(time.Duration(cfg.GenerationTimeout)*time.Second),
	)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectorStore := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	var rerankClient ports.Reranker
	if cfg.RerankURL != "" {
		rerankClient = crossenc.New(cfg.RerankURL, cfg.RerankModel, time.Duration(cfg.RerankTimeout)*time.Second)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(serviceName)
	observer := metrics.NewQueryObserver(pipelineMetrics, serviceName)

	resolver := usecase.NewResolver(generator, usecase.ResolverConfig{
		FuzzyFloor:       cfg.FuzzyFloor,
		FuzzyMargin:      cfg.FuzzyMargin,
		ExtractMaxTokens: cfg.ExtractMaxTokens,
	}, logger)
	retriever := usecase.NewRetriever(embedder, vectorStore, usecase.RetrieverConfig{
		PoolMultiplier: cfg.PoolMultiplier,
		Lambda:         cfg.MMRLambda,
	}, logger)
	reranker := usecase.NewCrossRerank(rerankClient, logger)
	expander := usecase.NewExpander(vectorStore, usecase.ExpanderConfig{
		TokenBudget:      cfg.TokenBudget,
		MinCompareTokens: cfg.MinCompareTokens,
		MaxExpansions:    cfg.MaxExpansions,
	}, logger)
	confidence := usecase.NewConfidenceCalculator(generator, usecase.ConfidenceConfig{
		EvalMaxTokens: cfg.EvalMaxTokens,
	}, logger)

	agent := usecase.NewAgent(
		catalogs,
		resolver,
		retriever,
		reranker,
		expander,
		confidence,
		generator,
		usecase.AgentConfig{
			TopK:                  cfg.TopK,
			LecturerTopK:          cfg.LecturerTopK,
			MaxQueryLength:        cfg.MaxQueryLength,
			AnswerMaxTokens:       cfg.AnswerMaxTokens,
			GenerationConcurrency: cfg.GenerationConcurrency,
		},
		logger,
		observer,
	)

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  pipelineMetrics,
		Limiter:  limiter,
		Agent:    agent,
		Health:   usecase.NewHealthService(catalogs, vectorStore, generator),
		Catalogs: catalogs,
		events:   events,
		reload:   catalogs.Load,
		closeFn: func() {
			events.Close()
			_ = db.Close()
		},
	}, nil
}

// WatchCorpusUpdates blocks until ctx is done, refreshing the catalog
// snapshot whenever the ingestion pipeline announces a corpus change.
func (a *App) WatchCorpusUpdates(ctx context.Context) error {
	return a.events.SubscribeCorpusUpdated(ctx, a.reload)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
