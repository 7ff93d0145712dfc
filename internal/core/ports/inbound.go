package ports

import (
	"context"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

// DocumentClassifier is the inbound contract for single-document classification.
type DocumentClassifier interface {
	Classify(ctx context.Context, doc domain.Document, cores []domain.Core) (domain.Verdict, error)
}

// CorpusEvaluator runs the classifier over labeled documents.
type CorpusEvaluator interface {
	Evaluate(ctx context.Context, docs []domain.Document, cores []domain.Core) (domain.EvaluationReport, error)
}

// CoreSelector picks a representative subset of a category pool.
type CoreSelector interface {
	SelectCore(ctx context.Context, docs []domain.Document, k int) ([]domain.Document, domain.SelectionReport, error)
}

// CoreRefiner improves one category core against labeled accuracy.
type CoreRefiner interface {
	Refine(ctx context.Context, category string) (domain.RefinementReport, error)
}

// CoreCatalog serves the current set of cores to long-running readers.
type CoreCatalog interface {
	Cores(ctx context.Context) ([]domain.Core, error)
	Refresh(ctx context.Context) error
}

// CatalogClassifier classifies a document against the currently known cores.
type CatalogClassifier interface {
	Classify(ctx context.Context, doc domain.Document) (domain.Verdict, error)
}
