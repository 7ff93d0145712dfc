package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

// CoreCatalogUseCase caches the core list for long-running processes and
// reloads it when a core is rebuilt elsewhere.
type CoreCatalogUseCase struct {
	store  ports.CoreStore
	logger *slog.Logger

	mu     sync.RWMutex
	cores  []domain.Core
	loaded bool
}

func NewCoreCatalogUseCase(store ports.CoreStore, logger *slog.Logger) *CoreCatalogUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreCatalogUseCase{store: store, logger: logger}
}

func (uc *CoreCatalogUseCase) Cores(ctx context.Context) ([]domain.Core, error) {
	uc.mu.RLock()
	if uc.loaded {
		out := append([]domain.Core(nil), uc.cores...)
		uc.mu.RUnlock()
		return out, nil
	}
	uc.mu.RUnlock()

	if err := uc.Refresh(ctx); err != nil {
		return nil, err
	}
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return append([]domain.Core(nil), uc.cores...), nil
}

func (uc *CoreCatalogUseCase) Refresh(ctx context.Context) error {
	cores, err := uc.store.Cores(ctx)
	if err != nil {
		return fmt.Errorf("load cores: %w", err)
	}
	domain.SortCores(cores)

	uc.mu.Lock()
	uc.cores = cores
	uc.loaded = true
	uc.mu.Unlock()

	uc.logger.Info("core_catalog_refreshed", "cores", len(cores))
	return nil
}

// HandleCoreUpdated is the subscriber callback for core update events.
func (uc *CoreCatalogUseCase) HandleCoreUpdated(ctx context.Context, category string) error {
	uc.logger.Info("core_update_received", "category", category)
	return uc.Refresh(ctx)
}

// ClassifyWithCatalog classifies doc against the cached cores.
type ClassifyWithCatalog struct {
	catalog    ports.CoreCatalog
	classifier ports.DocumentClassifier
}

func NewClassifyWithCatalog(catalog ports.CoreCatalog, classifier ports.DocumentClassifier) *ClassifyWithCatalog {
	return &ClassifyWithCatalog{catalog: catalog, classifier: classifier}
}

func (uc *ClassifyWithCatalog) Classify(ctx context.Context, doc domain.Document) (domain.Verdict, error) {
	cores, err := uc.catalog.Cores(ctx)
	if err != nil {
		return domain.Verdict{Document: doc.Name}, err
	}
	if len(cores) == 0 {
		return domain.Verdict{Document: doc.Name}, domain.WrapError(domain.ErrCategoryNotFound, "classify", fmt.Errorf("no cores in catalog"))
	}
	return uc.classifier.Classify(ctx, doc, cores)
}
