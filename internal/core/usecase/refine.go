package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

type RefineOptions struct {
	TargetSize int
	Seed       uint64
	ScratchDir string
}

// RefineCoreUseCase grows a category core one document at a time, keeping
// the candidate that gives the best accuracy on the category's labeled
// documents. Progress is checkpointed after every accepted document.
type RefineCoreUseCase struct {
	corpus      ports.Corpus
	candidates  ports.Corpus
	cores       ports.CoreStore
	archiver    ports.Archiver
	evaluator   ports.CorpusEvaluator
	checkpoints ports.CheckpointStore
	publisher   ports.CoreEventPublisher
	observer    ports.RefinementObserver
	opts        RefineOptions
	logger      *slog.Logger
}

func NewRefineCoreUseCase(
	corpus ports.Corpus,
	candidates ports.Corpus,
	cores ports.CoreStore,
	archiver ports.Archiver,
	evaluator ports.CorpusEvaluator,
	checkpoints ports.CheckpointStore,
	publisher ports.CoreEventPublisher,
	observer ports.RefinementObserver,
	opts RefineOptions,
	logger *slog.Logger,
) *RefineCoreUseCase {
	if candidates == nil {
		candidates = corpus
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefineCoreUseCase{
		corpus:      corpus,
		candidates:  candidates,
		cores:       cores,
		archiver:    archiver,
		evaluator:   evaluator,
		checkpoints: checkpoints,
		publisher:   publisher,
		observer:    observer,
		opts:        opts,
		logger:      logger,
	}
}

// RefineWorst evaluates the corpus with the current cores and refines the
// category with the lowest accuracy.
func (uc *RefineCoreUseCase) RefineWorst(ctx context.Context) (domain.EvaluationReport, domain.RefinementReport, error) {
	docs, err := loadCorpus(ctx, uc.corpus)
	if err != nil {
		return domain.EvaluationReport{}, domain.RefinementReport{}, err
	}
	cores, err := uc.cores.Cores(ctx)
	if err != nil {
		return domain.EvaluationReport{}, domain.RefinementReport{}, fmt.Errorf("list cores: %w", err)
	}
	evaluation, err := uc.evaluator.Evaluate(ctx, docs, cores)
	if err != nil {
		return evaluation, domain.RefinementReport{}, err
	}

	worst, ok := evaluation.WorstCategory()
	if !ok {
		return evaluation, domain.RefinementReport{}, domain.WrapError(domain.ErrInvalidInput, "refine worst", errors.New("corpus has no categories"))
	}
	uc.logger.Info("refine_worst_category",
		"category", worst,
		"accuracy", evaluation.CategoryAccuracy(worst),
	)

	refinement, err := uc.Refine(ctx, worst)
	return evaluation, refinement, err
}

func (uc *RefineCoreUseCase) Refine(ctx context.Context, category string) (domain.RefinementReport, error) {
	report := domain.RefinementReport{
		Category:   category,
		TargetSize: uc.opts.TargetSize,
		StartedAt:  time.Now().UTC(),
	}
	if uc.opts.TargetSize <= 0 {
		return report, domain.WrapError(domain.ErrInvalidInput, "refine", fmt.Errorf("target size must be positive, got %d", uc.opts.TargetSize))
	}

	candidates, err := uc.candidates.Documents(ctx, category)
	if err != nil {
		return report, fmt.Errorf("list candidates of %s: %w", category, err)
	}
	if len(candidates) == 0 {
		return report, domain.WrapError(domain.ErrCategoryNotFound, "refine", fmt.Errorf("no candidate documents for %s", category))
	}
	evalDocs, err := uc.corpus.Documents(ctx, category)
	if err != nil {
		return report, fmt.Errorf("list labeled documents of %s: %w", category, err)
	}
	if len(evalDocs) == 0 {
		return report, domain.WrapError(domain.ErrCategoryNotFound, "refine", fmt.Errorf("no labeled documents for %s", category))
	}

	byName := make(map[string]domain.Document, len(candidates))
	for _, doc := range candidates {
		byName[doc.Name] = doc
	}

	state := uc.initialState(ctx, category, byName, &report)
	selected := make([]domain.Document, 0, len(state.Selected))
	for _, name := range state.Selected {
		selected = append(selected, byName[name])
	}
	remaining := state.Remaining
	iteration := state.Iteration

	rng := rand.New(rand.NewPCG(uc.opts.Seed, uc.opts.Seed))

	stubDir, err := uc.scratch("stubs-*")
	if err != nil {
		return report, err
	}
	defer os.RemoveAll(stubDir)
	stubs := uc.sampleStubs(ctx, category, stubDir, uc.opts.TargetSize-len(selected), rng, &report)

	limit := min(uc.opts.TargetSize, len(candidates))
	converged := false
	for len(selected) < limit && len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return uc.interrupted(report, selected, iteration), err
		}

		cores, err := uc.cores.Cores(ctx)
		if err != nil {
			return uc.interrupted(report, selected, iteration), fmt.Errorf("list cores: %w", err)
		}

		step := domain.RefinementStep{Iteration: iteration}
		best, bestAcc := "", -1.0
		for _, name := range remaining {
			step.Trials++
			acc, err := uc.trial(ctx, category, byName[name], selected, stubs, cores, evalDocs)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return uc.interrupted(report, selected, iteration), ctxErr
				}
				step.FailedTrials++
				uc.logger.Warn("refine_trial_failed",
					"category", category,
					"iteration", iteration,
					"candidate", name,
					"error", err,
				)
				continue
			}
			uc.logger.Debug("refine_trial",
				"category", category,
				"iteration", iteration,
				"candidate", name,
				"accuracy", acc,
			)
			if acc > bestAcc {
				best, bestAcc = name, acc
			}
		}

		if best == "" {
			converged = true
			uc.logger.Warn("refine_no_improvement",
				"category", category,
				"iteration", iteration,
				"failed_trials", step.FailedTrials,
			)
			break
		}

		if len(stubs) > 0 {
			idx := rng.IntN(len(stubs))
			step.DroppedStub = stubs[idx].Name
			stubs = append(stubs[:idx], stubs[idx+1:]...)
		}
		selected = append(selected, byName[best])
		remaining = removeName(remaining, best)
		step.Accepted = best
		step.Accuracy = bestAcc
		iteration++

		checkpoint := domain.RefinementState{
			Selected:  domain.DocumentNames(selected),
			Remaining: append([]string{}, remaining...),
			Iteration: iteration,
		}
		if err := uc.checkpoints.Save(ctx, category, checkpoint); err != nil {
			return uc.interrupted(report, selected, iteration), fmt.Errorf("save checkpoint: %w", err)
		}

		report.Steps = append(report.Steps, step)
		report.BestAccuracy = bestAcc
		if uc.observer != nil {
			uc.observer.ObserveRefinementStep(category)
			uc.observer.ObserveAccuracy(category, bestAcc)
		}
		uc.logger.Info("refine_step_accepted",
			"category", category,
			"iteration", step.Iteration,
			"accepted", best,
			"accuracy", bestAcc,
			"dropped_stub", step.DroppedStub,
			"selected", len(selected),
		)
	}

	report.Status = domain.RefinementSatisfied
	if converged || len(selected) < limit {
		report.Status = domain.RefinementConverged
	}
	if err := uc.finalize(ctx, category, selected, &report); err != nil {
		return uc.interrupted(report, selected, iteration), err
	}
	report.Iteration = iteration
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// initialState loads the checkpoint or starts fresh. Unreadable checkpoints
// are discarded. Names that are no longer in the pool are dropped.
func (uc *RefineCoreUseCase) initialState(
	ctx context.Context,
	category string,
	pool map[string]domain.Document,
	report *domain.RefinementReport,
) domain.RefinementState {
	fresh := domain.RefinementState{
		Remaining: sortedNames(pool),
		Iteration: 1,
	}

	state, found, err := uc.checkpoints.Load(ctx, category)
	if err != nil {
		report.CheckpointDiscarded = true
		uc.logger.Warn("checkpoint_discarded",
			"category", category,
			"error", err,
		)
		return fresh
	}
	if !found {
		uc.logger.Info("refine_fresh_start", "category", category, "candidates", len(pool))
		return fresh
	}

	chosen := make(map[string]bool, len(state.Selected))
	clean := domain.RefinementState{Iteration: max(state.Iteration, 1)}
	var excess []string
	for _, name := range state.Selected {
		if _, ok := pool[name]; !ok || chosen[name] {
			uc.logger.Warn("checkpoint_unknown_document", "category", category, "document", name)
			continue
		}
		chosen[name] = true
		if len(clean.Selected) >= uc.opts.TargetSize {
			excess = append(excess, name)
			continue
		}
		clean.Selected = append(clean.Selected, name)
	}
	if len(excess) > 0 {
		// Selected beyond the current target go back to the candidates.
		uc.logger.Warn("checkpoint_selection_truncated",
			"category", category,
			"target", uc.opts.TargetSize,
			"returned", len(excess),
		)
	}
	seen := make(map[string]bool, len(state.Remaining)+len(excess))
	for _, name := range excess {
		seen[name] = true
		clean.Remaining = append(clean.Remaining, name)
	}
	for _, name := range state.Remaining {
		if _, ok := pool[name]; !ok || chosen[name] || seen[name] {
			continue
		}
		seen[name] = true
		clean.Remaining = append(clean.Remaining, name)
	}
	sort.Strings(clean.Remaining)

	report.Resumed = true
	uc.logger.Info("checkpoint_loaded",
		"category", category,
		"iteration", clean.Iteration,
		"selected", len(clean.Selected),
		"remaining", len(clean.Remaining),
	)
	return clean
}

// sampleStubs extracts every other category's core and draws needed filler
// documents from them.
func (uc *RefineCoreUseCase) sampleStubs(
	ctx context.Context,
	category, dir string,
	needed int,
	rng *rand.Rand,
	report *domain.RefinementReport,
) []domain.Document {
	if needed <= 0 {
		return nil
	}
	cores, err := uc.cores.Cores(ctx)
	if err != nil {
		uc.logger.Warn("stub_pool_unavailable", "category", category, "error", err)
		cores = nil
	}

	var pool []domain.Document
	for _, core := range cores {
		if core.Category == category {
			continue
		}
		docs, err := uc.cores.Extract(ctx, core.Category, filepath.Join(dir, core.Category))
		if err != nil {
			uc.logger.Warn("stub_core_extract_failed", "core", core.Category, "error", err)
			continue
		}
		pool = append(pool, docs...)
	}
	domain.SortDocuments(pool)

	if needed > len(pool) {
		report.StubShortfall = true
		uc.logger.Warn("stub_pool_shortfall",
			"category", category,
			"needed", needed,
			"available", len(pool),
			"error", domain.ErrInsufficientPool,
		)
		needed = len(pool)
	}

	stubs := make([]domain.Document, 0, needed)
	for _, idx := range rng.Perm(len(pool))[:needed] {
		stubs = append(stubs, pool[idx])
	}
	report.StubsSampled = len(stubs)
	return stubs
}

func (uc *RefineCoreUseCase) trial(
	ctx context.Context,
	category string,
	candidate domain.Document,
	selected, stubs []domain.Document,
	cores []domain.Core,
	evalDocs []domain.Document,
) (float64, error) {
	dir, err := uc.scratch("trial-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	archive := filepath.Join(dir, "trial"+uc.archiver.Extension())
	if err := uc.archiver.Create(ctx, archive, trialFiles(candidate, selected, stubs)); err != nil {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "build trial core", err)
	}

	report, err := uc.evaluator.Evaluate(ctx, evalDocs, substituteCore(cores, category, archive))
	if err != nil {
		return 0, fmt.Errorf("evaluate trial core: %w", err)
	}
	return report.CategoryAccuracy(category), nil
}

func (uc *RefineCoreUseCase) finalize(ctx context.Context, category string, selected []domain.Document, report *domain.RefinementReport) error {
	report.Selected = domain.DocumentNames(selected)
	if len(selected) > 0 {
		core, err := uc.cores.Save(ctx, category, domain.DocumentPaths(selected))
		if err != nil {
			return fmt.Errorf("save refined core: %w", err)
		}
		report.ArchivePath = core.ArchivePath
	} else {
		uc.logger.Warn("refine_empty_selection", "category", category)
	}

	if err := uc.checkpoints.Delete(ctx, category); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	if uc.publisher != nil && len(selected) > 0 {
		if err := uc.publisher.PublishCoreUpdated(ctx, category); err != nil {
			uc.logger.Warn("core_event_publish_failed", "category", category, "error", err)
		}
	}
	uc.logger.Info("refine_finished",
		"category", category,
		"status", report.Status,
		"selected", len(selected),
		"best_accuracy", report.BestAccuracy,
	)
	return nil
}

func (uc *RefineCoreUseCase) interrupted(report domain.RefinementReport, selected []domain.Document, iteration int) domain.RefinementReport {
	report.Selected = domain.DocumentNames(selected)
	report.Iteration = iteration
	report.FinishedAt = time.Now().UTC()
	return report
}

func (uc *RefineCoreUseCase) scratch(pattern string) (string, error) {
	if uc.opts.ScratchDir != "" {
		if err := os.MkdirAll(uc.opts.ScratchDir, 0o755); err != nil {
			return "", fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(uc.opts.ScratchDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// trialFiles lists candidate, selected and stub files, keeping the first file
// for each entry name so that real documents win over stubs.
func trialFiles(candidate domain.Document, selected, stubs []domain.Document) []string {
	seen := map[string]bool{}
	files := make([]string, 0, 1+len(selected)+len(stubs))
	add := func(doc domain.Document) {
		name := filepath.Base(doc.Path)
		if seen[name] {
			return
		}
		seen[name] = true
		files = append(files, doc.Path)
	}
	add(candidate)
	for _, doc := range selected {
		add(doc)
	}
	for _, doc := range stubs {
		add(doc)
	}
	return files
}

func substituteCore(cores []domain.Core, category, archive string) []domain.Core {
	out := make([]domain.Core, 0, len(cores)+1)
	replaced := false
	for _, core := range cores {
		if core.Category == category {
			core.ArchivePath = archive
			replaced = true
		}
		out = append(out, core)
	}
	if !replaced {
		out = append(out, domain.Core{Category: category, ArchivePath: archive})
	}
	return out
}

func removeName(names []string, target string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name != target {
			out = append(out, name)
		}
	}
	return out
}

func sortedNames(pool map[string]domain.Document) []string {
	names := make([]string, 0, len(pool))
	for name := range pool {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
