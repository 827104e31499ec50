package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dkrylov/metapipe/internal/config"
	"github.com/dkrylov/metapipe/internal/core/ports"
	"github.com/dkrylov/metapipe/internal/core/usecase"
	"github.com/dkrylov/metapipe/internal/infrastructure/ai"
	"github.com/dkrylov/metapipe/internal/infrastructure/docstore"
	"github.com/dkrylov/metapipe/internal/infrastructure/export"
	natsqueue "github.com/dkrylov/metapipe/internal/infrastructure/queue/nats"
	"github.com/dkrylov/metapipe/internal/infrastructure/resilience"
	"github.com/dkrylov/metapipe/internal/infrastructure/session/postgres"
	"github.com/dkrylov/metapipe/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Queue   ports.RunQueue
	Session ports.SessionStore
	Catalog *usecase.TemplateCatalog
	Runner  ports.BatchRunner
	Report  ports.ReportWriter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	pipeline, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	session := postgres.NewSessionRepository(db)
	if err := session.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init run queue: %w", err)
	}

	store := docstore.New(cfg.StoreBaseURL, cfg.StoreToken, docstore.Options{Executor: executor})
	aiClient := ai.New(cfg.AIBaseURL, cfg.StoreToken, cfg.AIModel, ai.Options{
		RequestsPerSecond: cfg.AIRPS,
		Burst:             cfg.AIBurst,
		Executor:          executor,
	})

	catalog := usecase.NewTemplateCatalog(store, logger)
	// No templates means no structured-extraction path: fatal at startup.
	if err := catalog.FetchAll(ctx); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("initial template catalog load: %w", err)
	}

	prompts := func(category string) string { return pipeline.PromptFor(category) }
	pipelineMetrics := metrics.NewPipelineMetrics("metapipe")

	classifier := usecase.NewClassifier(aiClient, logger)
	matcher := usecase.NewMatcher(catalog, cfg.MatchThreshold, pipeline.MatchKeywords, prompts, logger)
	router := usecase.NewRouter(aiClient, catalog, prompts, logger)
	normalizer := usecase.NewNormalizer(logger)
	applier := usecase.NewApplier(store, catalog, usecase.ApplyOptions{
		FilterPlaceholders: cfg.FilterPlaceholders,
		NormalizeKeys:      cfg.NormalizeKeys,
	}, logger)
	runner := usecase.NewRunner(session, classifier, matcher, router, normalizer, applier,
		cfg.WorkerConcurrency, pipelineMetrics, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: pipelineMetrics,
		Queue:   queue,
		Session: session,
		Catalog: catalog,
		Runner:  runner,
		Report:  export.NewReportWriter(logger),
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

var _ ports.CatalogReader = (*usecase.TemplateCatalog)(nil)
var _ ports.TemplateSource = (*docstore.Client)(nil)
var _ ports.MetadataWriter = (*docstore.Client)(nil)
var _ ports.DocumentClassifier = (*ai.Client)(nil)
var _ ports.MetadataExtractor = (*ai.Client)(nil)
var _ ports.SessionStore = (*postgres.SessionRepository)(nil)
var _ ports.RunQueue = (*natsqueue.Queue)(nil)
var _ ports.ReportWriter = (*export.ReportWriter)(nil)
var _ usecase.Instrumentation = (*metrics.PipelineMetrics)(nil)
