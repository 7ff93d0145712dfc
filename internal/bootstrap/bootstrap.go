package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Trivonta/compress-classify/internal/config"
	"github.com/Trivonta/compress-classify/internal/core/ports"
	"github.com/Trivonta/compress-classify/internal/core/usecase"
	"github.com/Trivonta/compress-classify/internal/infrastructure/archive/sevenzip"
	"github.com/Trivonta/compress-classify/internal/infrastructure/archive/stream"
	"github.com/Trivonta/compress-classify/internal/infrastructure/checkpoint/jsonfile"
	corpusfs "github.com/Trivonta/compress-classify/internal/infrastructure/corpus/localfs"
	"github.com/Trivonta/compress-classify/internal/infrastructure/queue/nats"
	"github.com/Trivonta/compress-classify/internal/infrastructure/repository/postgres"
	"github.com/Trivonta/compress-classify/internal/infrastructure/resilience"
	"github.com/Trivonta/compress-classify/internal/infrastructure/storage/localfs"
	"github.com/Trivonta/compress-classify/internal/observability/metrics"
)

type Options struct {
	Service string
	// RequireCorpus fails startup when CORPUS_ROOT cannot be opened. Without
	// it the corpus-backed use cases are left nil.
	RequireCorpus bool
}

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Archiver ports.Archiver
	Cores    *localfs.Storage
	Catalog  *usecase.CoreCatalogUseCase

	ClassifyUC *usecase.ClassifyUseCase
	CatalogUC  *usecase.ClassifyWithCatalog
	EvaluateUC *usecase.EvaluateCorpusUseCase
	SelectUC   *usecase.SelectCoreUseCase
	RefineUC   *usecase.RefineCoreUseCase

	// Reports and Events are nil when POSTGRES_DSN or NATS_URL are unset.
	Reports *postgres.ReportRepository
	Events  ports.CoreEventSubscriber

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = "compressclassify"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(opts.Service)
	resilienceCfg := cfg.Resilience()

	archiver, err := NewArchiver(cfg, resilience.NewExecutor(resilienceCfg, logger.With("component", "archiver")), logger)
	if err != nil {
		return nil, err
	}

	cores, err := localfs.New(cfg.CoresDir, archiver)
	if err != nil {
		return nil, fmt.Errorf("init core store: %w", err)
	}
	checkpoints, err := jsonfile.New(cfg.CheckpointDir)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		db      *sql.DB
		reports *postgres.ReportRepository
		repo    ports.ReportRepository
	)
	if cfg.PostgresDSN != "" {
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		reports = postgres.NewReportRepository(db)
		if err := reports.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		repo = reports
	}

	var (
		publisher  ports.CoreEventPublisher
		subscriber ports.CoreEventSubscriber
	)
	if cfg.NATSURL != "" {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilienceCfg, logger.With("component", "nats")),
			Logger:             logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		closers = append(closers, queue.Close)
		publisher = queue
		subscriber = queue
	}

	oracle := usecase.NewCompressionOracle(archiver, usecase.OracleOptions{
		ScratchDir:   cfg.ScratchDir,
		ProbeTimeout: cfg.ProbeTimeout(),
		Observer:     pipelineMetrics,
	})
	classifyUC := usecase.NewClassifyUseCase(oracle, cfg.Workers, logger)
	catalog := usecase.NewCoreCatalogUseCase(cores, logger)

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    pipelineMetrics,
		Archiver:   archiver,
		Cores:      cores,
		Catalog:    catalog,
		ClassifyUC: classifyUC,
		CatalogUC:  usecase.NewClassifyWithCatalog(catalog, classifyUC),
		Reports:    reports,
		Events:     subscriber,
		closeFn:    closeAll,
	}

	corpus, err := corpusfs.New(cfg.CorpusRoot)
	if err != nil {
		if opts.RequireCorpus {
			closeAll()
			return nil, fmt.Errorf("init corpus: %w", err)
		}
		logger.Debug("corpus_unavailable", "root", cfg.CorpusRoot, "error", err)
		return app, nil
	}
	var candidates ports.Corpus = corpus
	if root := cfg.EffectiveCandidateRoot(); root != cfg.CorpusRoot {
		pool, err := corpusfs.New(root)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init candidate pool: %w", err)
		}
		candidates = pool
	}

	app.EvaluateUC = usecase.NewEvaluateCorpusUseCase(corpus, cores, classifyUC, repo, pipelineMetrics, logger)
	app.SelectUC = usecase.NewSelectCoreUseCase(oracle, candidates, cores, publisher, cfg.Workers, logger)
	app.RefineUC = usecase.NewRefineCoreUseCase(
		corpus,
		candidates,
		cores,
		archiver,
		classifyUC,
		checkpoints,
		publisher,
		pipelineMetrics,
		usecase.RefineOptions{
			TargetSize: cfg.RefineTargetSize,
			Seed:       cfg.RefineSeed,
			ScratchDir: cfg.ScratchDir,
		},
		logger,
	)
	return app, nil
}

// NewArchiver picks the compressor backend named by cfg.Compressor.
func NewArchiver(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.Archiver, error) {
	if cfg.Compressor == "7z" {
		archiver := sevenzip.New(sevenzip.Options{
			Binary:   cfg.SevenZipPath,
			Level:    cfg.SevenZipLevel,
			Executor: executor,
			Logger:   logger,
		})
		if err := archiver.Available(); err != nil {
			// Probes will fail and every verdict will be undetermined.
			logger.Warn("compressor_unavailable", "compressor", cfg.Compressor, "error", err)
		}
		return archiver, nil
	}
	codec, err := stream.CodecByName(cfg.Compressor)
	if err != nil {
		return nil, fmt.Errorf("init archiver: %w", err)
	}
	return stream.New(codec), nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
