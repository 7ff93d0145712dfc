package ports

import (
	"context"
	"time"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

// Archiver wraps an external or in-process compressor that keeps
// documents in an archive file. Extension includes the leading dot.
type Archiver interface {
	Extension() string
	Create(ctx context.Context, archive string, files []string) error
	Append(ctx context.Context, archive string, files []string) error
	Extract(ctx context.Context, archive, dir string) error
}

// DistanceEngine measures compressed sizes and incremental compression costs.
type DistanceEngine interface {
	Size(ctx context.Context, doc domain.Document) (int64, error)
	ConcatSize(ctx context.Context, first, second domain.Document) (int64, error)
	Cost(ctx context.Context, reference string, doc domain.Document) (int64, error)
}

// Corpus lists labeled documents laid out one directory per category.
type Corpus interface {
	Categories(ctx context.Context) ([]string, error)
	Documents(ctx context.Context, category string) ([]domain.Document, error)
}

// CoreStore persists one reference archive per category.
type CoreStore interface {
	Cores(ctx context.Context) ([]domain.Core, error)
	Save(ctx context.Context, category string, files []string) (domain.Core, error)
	Extract(ctx context.Context, category, dir string) ([]domain.Document, error)
}

// CheckpointStore keeps in-progress refinement state. Load reports
// found=false when no checkpoint exists and wraps domain.ErrCheckpointCorrupt
// when one exists but cannot be decoded.
type CheckpointStore interface {
	Load(ctx context.Context, category string) (state domain.RefinementState, found bool, err error)
	Save(ctx context.Context, category string, state domain.RefinementState) error
	Delete(ctx context.Context, category string) error
}

// ReportRepository keeps the history of evaluation runs.
type ReportRepository interface {
	SaveEvaluation(ctx context.Context, report domain.EvaluationReport) error
}

// CoreEventPublisher announces rebuilt cores.
type CoreEventPublisher interface {
	PublishCoreUpdated(ctx context.Context, category string) error
}

// CoreEventSubscriber consumes core announcements until ctx is done.
type CoreEventSubscriber interface {
	SubscribeCoreUpdated(ctx context.Context, handler func(context.Context, string) error) error
}

// ProbeObserver receives one call per compression probe.
type ProbeObserver interface {
	ObserveProbe(operation string, duration time.Duration, err error)
}

// RefinementObserver receives refinement progress.
type RefinementObserver interface {
	ObserveAccuracy(category string, accuracy float64)
	ObserveRefinementStep(category string)
}
