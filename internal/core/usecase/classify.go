package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

type ClassifyUseCase struct {
	engine  ports.DistanceEngine
	workers int
	logger  *slog.Logger
}

func NewClassifyUseCase(engine ports.DistanceEngine, workers int, logger *slog.Logger) *ClassifyUseCase {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifyUseCase{
		engine:  engine,
		workers: workers,
		logger:  logger,
	}
}

type probeResult struct {
	cost int64
	err  error
}

// Classify probes doc against every core and votes for the cheapest one.
// Ties go to the lexicographically smallest category. When no probe succeeds
// the verdict is undetermined and the error is of kind domain.ErrUndetermined.
func (uc *ClassifyUseCase) Classify(ctx context.Context, doc domain.Document, cores []domain.Core) (domain.Verdict, error) {
	verdict := domain.Verdict{
		Document: doc.Name,
		Costs:    map[string]int64{},
	}
	if len(cores) == 0 {
		return verdict, domain.WrapError(domain.ErrInvalidInput, "classify", errors.New("no cores available"))
	}

	ordered := append([]domain.Core(nil), cores...)
	domain.SortCores(ordered)

	results := make([]probeResult, len(ordered))
	var g errgroup.Group
	g.SetLimit(uc.workers)
	for i, core := range ordered {
		g.Go(func() error {
			cost, err := uc.engine.Cost(ctx, core.ArchivePath, doc)
			results[i] = probeResult{cost: cost, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var probeErrs []error
	best := ""
	for i, core := range ordered {
		res := results[i]
		if res.err != nil {
			if verdict.Failures == nil {
				verdict.Failures = map[string]string{}
			}
			verdict.Failures[core.Category] = res.err.Error()
			probeErrs = append(probeErrs, fmt.Errorf("%s: %w", core.Category, res.err))
			continue
		}
		verdict.Costs[core.Category] = res.cost
		if best == "" || res.cost < verdict.Costs[best] {
			best = core.Category
		}
	}

	if best == "" {
		verdict.Undetermined = true
		uc.logger.Warn("classification_undetermined",
			"document", doc.Name,
			"cores", len(ordered),
		)
		return verdict, domain.WrapError(domain.ErrUndetermined, "classify "+doc.Name, errors.Join(probeErrs...))
	}

	verdict.Category = best
	if len(probeErrs) > 0 {
		uc.logger.Warn("classification_probe_failures",
			"document", doc.Name,
			"failed", len(probeErrs),
			"error", errors.Join(probeErrs...),
		)
	}
	uc.logger.Debug("classification_verdict",
		"document", doc.Name,
		"category", best,
		"cost", verdict.Costs[best],
	)
	return verdict, nil
}

// Evaluate classifies every labeled document and aggregates accuracy.
// Undetermined documents count toward totals and are tracked separately.
func (uc *ClassifyUseCase) Evaluate(ctx context.Context, docs []domain.Document, cores []domain.Core) (domain.EvaluationReport, error) {
	report := domain.EvaluationReport{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		PerCategory: map[string]domain.CategoryStats{},
		Predictions: make([]domain.Prediction, 0, len(docs)),
	}
	if len(cores) == 0 {
		return report, domain.WrapError(domain.ErrInvalidInput, "evaluate", errors.New("no cores available"))
	}

	ordered := append([]domain.Document(nil), docs...)
	domain.SortDocuments(ordered)

	for _, doc := range ordered {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, fmt.Errorf("evaluate: %w", err)
		}

		verdict, err := uc.Classify(ctx, doc, cores)
		stats := report.PerCategory[doc.Category]
		stats.Total++
		report.Total++

		prediction := domain.Prediction{
			Document: doc.Name,
			Category: doc.Category,
		}
		switch {
		case err != nil && verdict.Undetermined:
			stats.Undetermined++
			report.Undetermined++
			prediction.Undetermined = true
		case err != nil:
			report.FinishedAt = time.Now().UTC()
			report.PerCategory[doc.Category] = stats
			return report, fmt.Errorf("evaluate %s: %w", doc.Name, err)
		default:
			prediction.Predicted = verdict.Category
			if verdict.Category == doc.Category {
				stats.Correct++
				report.Correct++
			}
		}
		report.PerCategory[doc.Category] = stats
		report.Predictions = append(report.Predictions, prediction)
	}

	report.FinishedAt = time.Now().UTC()
	uc.logger.Info("evaluation_finished",
		"run_id", report.RunID,
		"total", report.Total,
		"correct", report.Correct,
		"undetermined", report.Undetermined,
		"accuracy", report.Accuracy(),
	)
	return report, nil
}
