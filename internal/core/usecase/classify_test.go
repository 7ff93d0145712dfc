package usecase

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/infrastructure/archive/sevenzip"
	"github.com/Trivonta/compress-classify/internal/infrastructure/archive/stream"
)

func threeCores() []domain.Core {
	return []domain.Core{
		{Category: "gamma", ArchivePath: "gamma.7z"},
		{Category: "alpha", ArchivePath: "alpha.7z"},
		{Category: "beta", ArchivePath: "beta.7z"},
	}
}

func TestClassifyPicksCheapestCore(t *testing.T) {
	engine := &tableEngine{costs: map[string]int64{
		"alpha.7z|doc.txt": 120,
		"beta.7z|doc.txt":  40,
		"gamma.7z|doc.txt": 95,
	}}
	uc := NewClassifyUseCase(engine, 2, nil)

	verdict, err := uc.Classify(context.Background(), domain.Document{Name: "doc.txt"}, threeCores())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if verdict.Category != "beta" {
		t.Fatalf("expected beta, got %q", verdict.Category)
	}
	if len(verdict.Costs) != 3 || verdict.Costs["gamma"] != 95 {
		t.Fatalf("unexpected costs %v", verdict.Costs)
	}
	if engine.calls != 3 {
		t.Fatalf("expected one probe per core, got %d", engine.calls)
	}
}

func TestClassifyTieGoesToSmallestCategory(t *testing.T) {
	engine := &tableEngine{costs: map[string]int64{
		"alpha.7z|doc.txt": 50,
		"beta.7z|doc.txt":  50,
		"gamma.7z|doc.txt": 50,
	}}
	uc := NewClassifyUseCase(engine, 1, nil)

	verdict, err := uc.Classify(context.Background(), domain.Document{Name: "doc.txt"}, threeCores())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if verdict.Category != "alpha" {
		t.Fatalf("expected alpha on tie, got %q", verdict.Category)
	}
}

func TestClassifyNegativeCostWins(t *testing.T) {
	engine := &tableEngine{costs: map[string]int64{
		"alpha.7z|doc.txt": 12,
		"beta.7z|doc.txt":  -3,
		"gamma.7z|doc.txt": 0,
	}}
	uc := NewClassifyUseCase(engine, 4, nil)

	verdict, err := uc.Classify(context.Background(), domain.Document{Name: "doc.txt"}, threeCores())
	if err != nil || verdict.Category != "beta" {
		t.Fatalf("expected beta, got %q err=%v", verdict.Category, err)
	}
}

func TestClassifyIsolatesProbeFailures(t *testing.T) {
	engine := &tableEngine{
		costs: map[string]int64{
			"beta.7z|doc.txt":  80,
			"gamma.7z|doc.txt": 60,
		},
		failing: map[string]bool{"alpha.7z": true},
	}
	uc := NewClassifyUseCase(engine, 3, nil)

	verdict, err := uc.Classify(context.Background(), domain.Document{Name: "doc.txt"}, threeCores())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if verdict.Category != "gamma" {
		t.Fatalf("expected gamma, got %q", verdict.Category)
	}
	if _, ok := verdict.Failures["alpha"]; !ok {
		t.Fatalf("expected alpha failure recorded, got %v", verdict.Failures)
	}
	if _, ok := verdict.Costs["alpha"]; ok {
		t.Fatalf("failed probe must not produce a cost")
	}
}

func TestClassifyAllProbesFailed(t *testing.T) {
	engine := &tableEngine{failing: map[string]bool{"alpha.7z": true, "beta.7z": true, "gamma.7z": true}}
	uc := NewClassifyUseCase(engine, 3, nil)

	verdict, err := uc.Classify(context.Background(), domain.Document{Name: "doc.txt"}, threeCores())
	if !domain.IsKind(err, domain.ErrUndetermined) {
		t.Fatalf("expected undetermined error, got %v", err)
	}
	if !verdict.Undetermined || verdict.Category != "" {
		t.Fatalf("expected undetermined verdict, got %+v", verdict)
	}
	if len(verdict.Failures) != 3 {
		t.Fatalf("expected 3 failures, got %v", verdict.Failures)
	}
}

func TestClassifyWithoutCores(t *testing.T) {
	uc := NewClassifyUseCase(&tableEngine{}, 1, nil)
	_, err := uc.Classify(context.Background(), domain.Document{Name: "doc.txt"}, nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestEvaluateAggregatesAccuracy(t *testing.T) {
	cores := []domain.Core{
		{Category: "A", ArchivePath: "A.7z"},
		{Category: "B", ArchivePath: "B.7z"},
	}
	engine := &tableEngine{
		costs: map[string]int64{
			"A.7z|a1.txt": 10, "B.7z|a1.txt": 30,
			"A.7z|a2.txt": 40, "B.7z|a2.txt": 20,
			"A.7z|b1.txt": 50, "B.7z|b1.txt": 5,
		},
		failing: map[string]bool{"A.7z|b2.txt": true, "B.7z|b2.txt": true},
	}
	docs := append(docsOf("B", "b2.txt", "b1.txt"), docsOf("A", "a2.txt", "a1.txt")...)
	uc := NewClassifyUseCase(engine, 2, nil)

	report, err := uc.Evaluate(context.Background(), docs, cores)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.RunID == "" {
		t.Fatalf("expected run id")
	}
	if report.Total != 4 || report.Correct != 2 || report.Undetermined != 1 {
		t.Fatalf("unexpected totals %+v", report)
	}
	if report.Accuracy() != 50 {
		t.Fatalf("expected 50%% accuracy, got %v", report.Accuracy())
	}
	if got := report.PerCategory["B"]; got.Total != 2 || got.Correct != 1 || got.Undetermined != 1 {
		t.Fatalf("unexpected B stats %+v", got)
	}
	if report.Predictions[0].Document != "a1.txt" || report.Predictions[3].Document != "b2.txt" {
		t.Fatalf("predictions not in category/name order: %+v", report.Predictions)
	}
	if !report.Predictions[3].Undetermined {
		t.Fatalf("expected b2 undetermined")
	}
	if worst, _ := report.WorstCategory(); worst != "A" {
		t.Fatalf("expected tie on accuracy to pick A, got %q", worst)
	}
}

func TestClassifyTopicCorpusWithZstd(t *testing.T) {
	root := t.TempDir()
	aDocs := writeTopicDocs(t, topicDir(t, root, "A"), "A", 5, 100)
	bDocs := writeTopicDocs(t, topicDir(t, root, "B"), "B", 5, 200)

	archiver := stream.New(stream.ZstdCodec{})
	coresDir := mkdirAll(t, filepath.Join(root, "cores"))
	var cores []domain.Core
	for category, docs := range map[string][]domain.Document{"A": aDocs[:3], "B": bDocs[:3]} {
		archive := filepath.Join(coresDir, category+archiver.Extension())
		if err := archiver.Create(context.Background(), archive, domain.DocumentPaths(docs)); err != nil {
			t.Fatalf("build core %s: %v", category, err)
		}
		cores = append(cores, domain.Core{Category: category, ArchivePath: archive})
	}

	scratch := t.TempDir()
	oracle := NewCompressionOracle(archiver, OracleOptions{ScratchDir: scratch})
	uc := NewClassifyUseCase(oracle, 4, nil)

	heldOut := append(append([]domain.Document{}, aDocs[3:]...), bDocs[3:]...)
	report, err := uc.Evaluate(context.Background(), heldOut, cores)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Correct != 4 || report.Undetermined != 0 {
		t.Fatalf("expected all held-out documents classified correctly, got %+v", report.Predictions)
	}
	if leftovers := listDir(scratch); len(leftovers) != 0 {
		t.Fatalf("scratch not cleaned: %v", leftovers)
	}
}

func TestClassifyIgnoresDocumentFileName(t *testing.T) {
	root := t.TempDir()
	aDocs := writeTopicDocs(t, topicDir(t, root, "A"), "A", 4, 100)
	bDocs := writeTopicDocs(t, topicDir(t, root, "B"), "B", 3, 200)

	archiver := stream.New(stream.ZstdCodec{})
	coresDir := mkdirAll(t, filepath.Join(root, "cores"))
	var cores []domain.Core
	for category, docs := range map[string][]domain.Document{"A": aDocs[:1], "B": bDocs[:1]} {
		archive := filepath.Join(coresDir, category+archiver.Extension())
		if err := archiver.Create(context.Background(), archive, domain.DocumentPaths(docs)); err != nil {
			t.Fatalf("build core %s: %v", category, err)
		}
		cores = append(cores, domain.Core{Category: category, ArchivePath: archive})
	}

	content, err := os.ReadFile(aDocs[3].Path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	// b1.txt is also the name of the only entry in core B.
	named := writeTestDoc(t, mkdirAll(t, filepath.Join(root, "uploads")), "A", "b1.txt", string(content))

	uc := NewClassifyUseCase(NewCompressionOracle(archiver, OracleOptions{ScratchDir: t.TempDir()}), 2, nil)
	neutral, err := uc.Classify(context.Background(), aDocs[3], cores)
	if err != nil {
		t.Fatalf("Classify(neutral) error = %v", err)
	}
	colliding, err := uc.Classify(context.Background(), named, cores)
	if err != nil {
		t.Fatalf("Classify(colliding) error = %v", err)
	}
	if neutral.Category != "A" || colliding.Category != "A" {
		t.Fatalf("expected A for both names, got %s (%v) and %s (%v)",
			neutral.Category, neutral.Costs, colliding.Category, colliding.Costs)
	}
	if !maps.Equal(neutral.Costs, colliding.Costs) {
		t.Fatalf("costs depend on the file name: %v vs %v", neutral.Costs, colliding.Costs)
	}
}

func TestClassifyMissingSevenZipIsUndetermined(t *testing.T) {
	root := t.TempDir()
	doc := writeTestDoc(t, root, "A", "doc.txt", "some text")
	var cores []domain.Core
	for _, category := range []string{"A", "B"} {
		archive := filepath.Join(root, category+".7z")
		if err := os.WriteFile(archive, []byte("not really an archive"), 0o644); err != nil {
			t.Fatalf("write core: %v", err)
		}
		cores = append(cores, domain.Core{Category: category, ArchivePath: archive})
	}

	scratch := t.TempDir()
	archiver := sevenzip.New(sevenzip.Options{Binary: filepath.Join(root, "missing-7z")})
	uc := NewClassifyUseCase(NewCompressionOracle(archiver, OracleOptions{ScratchDir: scratch}), 2, nil)

	verdict, err := uc.Classify(context.Background(), doc, cores)
	if !domain.IsKind(err, domain.ErrUndetermined) || !verdict.Undetermined {
		t.Fatalf("expected undetermined verdict, got %+v err=%v", verdict, err)
	}
	if leftovers := listDir(scratch); len(leftovers) != 0 {
		t.Fatalf("scratch archives leaked: %v", leftovers)
	}
}
