package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

// EvaluateCorpusUseCase runs the classifier over the whole labeled corpus with
// the cores currently in the store.
type EvaluateCorpusUseCase struct {
	corpus    ports.Corpus
	cores     ports.CoreStore
	evaluator ports.CorpusEvaluator
	reports   ports.ReportRepository
	observer  ports.RefinementObserver
	logger    *slog.Logger
}

func NewEvaluateCorpusUseCase(
	corpus ports.Corpus,
	cores ports.CoreStore,
	evaluator ports.CorpusEvaluator,
	reports ports.ReportRepository,
	observer ports.RefinementObserver,
	logger *slog.Logger,
) *EvaluateCorpusUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluateCorpusUseCase{
		corpus:    corpus,
		cores:     cores,
		evaluator: evaluator,
		reports:   reports,
		observer:  observer,
		logger:    logger,
	}
}

func (uc *EvaluateCorpusUseCase) EvaluateCorpus(ctx context.Context) (domain.EvaluationReport, error) {
	docs, err := loadCorpus(ctx, uc.corpus)
	if err != nil {
		return domain.EvaluationReport{}, err
	}
	if len(docs) == 0 {
		return domain.EvaluationReport{}, domain.WrapError(domain.ErrInvalidInput, "evaluate corpus", errors.New("corpus has no documents"))
	}

	cores, err := uc.cores.Cores(ctx)
	if err != nil {
		return domain.EvaluationReport{}, fmt.Errorf("list cores: %w", err)
	}

	report, err := uc.evaluator.Evaluate(ctx, docs, cores)
	if err != nil {
		return report, err
	}

	if uc.observer != nil {
		for category, stats := range report.PerCategory {
			uc.observer.ObserveAccuracy(category, stats.Accuracy())
		}
	}
	if uc.reports != nil {
		if err := uc.reports.SaveEvaluation(ctx, report); err != nil {
			uc.logger.Error("evaluation_report_save_failed",
				"run_id", report.RunID,
				"error", err,
			)
		}
	}
	return report, nil
}

func loadCorpus(ctx context.Context, corpus ports.Corpus) ([]domain.Document, error) {
	categories, err := corpus.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list corpus categories: %w", err)
	}
	var docs []domain.Document
	for _, category := range categories {
		categoryDocs, err := corpus.Documents(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("list documents of %s: %w", category, err)
		}
		docs = append(docs, categoryDocs...)
	}
	return docs, nil
}
