package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

type SelectCoreUseCase struct {
	engine    ports.DistanceEngine
	corpus    ports.Corpus
	cores     ports.CoreStore
	publisher ports.CoreEventPublisher
	workers   int
	logger    *slog.Logger
}

func NewSelectCoreUseCase(
	engine ports.DistanceEngine,
	corpus ports.Corpus,
	cores ports.CoreStore,
	publisher ports.CoreEventPublisher,
	workers int,
	logger *slog.Logger,
) *SelectCoreUseCase {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SelectCoreUseCase{
		engine:    engine,
		corpus:    corpus,
		cores:     cores,
		publisher: publisher,
		workers:   workers,
		logger:    logger,
	}
}

// SelectCore returns up to k documents of the pool, most representative first.
// The pool is ordered by name, so repeated runs over the same inputs pick the
// same documents.
func (uc *SelectCoreUseCase) SelectCore(ctx context.Context, docs []domain.Document, k int) ([]domain.Document, domain.SelectionReport, error) {
	pool := append([]domain.Document(nil), docs...)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Name < pool[j].Name })

	report := domain.SelectionReport{
		PoolSize:  len(pool),
		Requested: k,
	}
	if len(pool) > 0 {
		report.Category = pool[0].Category
	}
	if k <= 0 {
		return nil, report, domain.WrapError(domain.ErrInvalidInput, "select core", fmt.Errorf("core size must be positive, got %d", k))
	}

	if len(pool) < k {
		report.Shortfall = true
		report.Selected = domain.DocumentNames(pool)
		uc.logger.Warn("core_pool_shortfall",
			"category", report.Category,
			"pool", len(pool),
			"requested", k,
			"error", domain.ErrInsufficientPool,
		)
		return pool, report, nil
	}

	matrix, failedBaselines, failedCells, err := uc.BuildMatrix(ctx, pool)
	if err != nil {
		return nil, report, err
	}
	report.FailedBaselines = failedBaselines
	report.FailedCells = failedCells

	indices := matrix.Peel(k)
	selected := make([]domain.Document, 0, len(indices))
	for _, idx := range indices {
		selected = append(selected, pool[idx])
	}
	report.Selected = domain.DocumentNames(selected)
	return selected, report, nil
}

// BuildMatrix measures the normalized pairwise cost matrix of pool. Failed
// measurements stay NaN; the names of documents without a baseline size and
// the number of failed cells are returned alongside.
func (uc *SelectCoreUseCase) BuildMatrix(ctx context.Context, pool []domain.Document) (*DistanceMatrix, []string, int, error) {
	n := len(pool)
	sizes := make([]int64, n)
	baselineErrs := make([]error, n)

	g := new(errgroup.Group)
	g.SetLimit(uc.workers)
	for i, doc := range pool {
		g.Go(func() error {
			sizes[i], baselineErrs[i] = uc.engine.Size(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("build matrix: %w", err)
	}

	var failedBaselines []string
	for i, err := range baselineErrs {
		if err != nil {
			failedBaselines = append(failedBaselines, pool[i].Name)
			uc.logger.Warn("baseline_probe_failed", "document", pool[i].Name, "error", err)
		}
	}

	matrix := NewDistanceMatrix(n)
	var failedCells atomic.Int64
	g = new(errgroup.Group)
	g.SetLimit(uc.workers)
	for i := range n {
		for j := range n {
			if i == j {
				continue
			}
			if baselineErrs[i] != nil || baselineErrs[j] != nil {
				failedCells.Add(1)
				continue
			}
			g.Go(func() error {
				combined, err := uc.engine.ConcatSize(ctx, pool[i], pool[j])
				if err != nil {
					failedCells.Add(1)
					uc.logger.Debug("matrix_cell_failed",
						"row", pool[i].Name,
						"column", pool[j].Name,
						"error", err,
					)
					return nil
				}
				// Each goroutine owns exactly one cell.
				matrix.Set(i, j, float64(combined-sizes[i])/float64(sizes[j]))
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("build matrix: %w", err)
	}

	return matrix, failedBaselines, int(failedCells.Load()), nil
}

// BuildCores selects and stores a core of size k for every corpus category.
// A failing category is recorded in its report and does not stop the batch.
func (uc *SelectCoreUseCase) BuildCores(ctx context.Context, k int) ([]domain.SelectionReport, error) {
	categories, err := uc.corpus.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list corpus categories: %w", err)
	}

	reports := make([]domain.SelectionReport, 0, len(categories))
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := uc.buildCore(ctx, category, k)
		report.Category = category
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return reports, err
			}
			report.Error = err.Error()
			uc.logger.Error("core_build_failed", "category", category, "error", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (uc *SelectCoreUseCase) buildCore(ctx context.Context, category string, k int) (domain.SelectionReport, error) {
	docs, err := uc.corpus.Documents(ctx, category)
	if err != nil {
		return domain.SelectionReport{}, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return domain.SelectionReport{Requested: k}, domain.WrapError(domain.ErrInvalidInput, "build core", errors.New("category has no documents"))
	}

	selected, report, err := uc.SelectCore(ctx, docs, k)
	if err != nil {
		return report, err
	}

	core, err := uc.cores.Save(ctx, category, domain.DocumentPaths(selected))
	if err != nil {
		return report, fmt.Errorf("save core: %w", err)
	}
	report.ArchivePath = core.ArchivePath
	uc.logger.Info("core_built",
		"category", category,
		"pool", report.PoolSize,
		"selected", len(selected),
		"failed_cells", report.FailedCells,
		"archive", core.ArchivePath,
	)

	if uc.publisher != nil {
		if err := uc.publisher.PublishCoreUpdated(ctx, category); err != nil {
			uc.logger.Warn("core_event_publish_failed", "category", category, "error", err)
		}
	}
	return report, nil
}
