package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

// concatArchiver stores the raw bytes of every file, so sizes are exact.
type concatArchiver struct {
	err error
}

func (a *concatArchiver) Extension() string { return ".raw" }

func (a *concatArchiver) Create(_ context.Context, archive string, files []string) error {
	if a.err != nil {
		return a.err
	}
	return concatFiles(archive, files...)
}

func (a *concatArchiver) Append(_ context.Context, archive string, files []string) error {
	if a.err != nil {
		return a.err
	}
	out, err := os.OpenFile(archive, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	for _, file := range files {
		if err := appendFile(out, file); err != nil {
			return err
		}
	}
	return nil
}

func (a *concatArchiver) Extract(context.Context, string, string) error {
	return errors.New("not implemented")
}

// blockingArchiver waits for cancellation before failing.
type blockingArchiver struct{}

func (blockingArchiver) Extension() string { return ".raw" }

func (blockingArchiver) Create(ctx context.Context, _ string, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingArchiver) Append(ctx context.Context, _ string, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingArchiver) Extract(context.Context, string, string) error { return nil }

// manifestArchiver writes the base names of the archived files, one per line.
type manifestArchiver struct{}

func (manifestArchiver) Extension() string { return ".list" }

func (manifestArchiver) Create(_ context.Context, archive string, files []string) error {
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, filepath.Base(file))
	}
	return os.WriteFile(archive, []byte(strings.Join(names, "\n")), 0o644)
}

func (manifestArchiver) Append(context.Context, string, []string) error {
	return errors.New("not implemented")
}

func (manifestArchiver) Extract(context.Context, string, string) error {
	return errors.New("not implemented")
}

func readManifest(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(raw), "\n"), nil
}

// tableEngine answers probes from fixed tables keyed by document name.
type tableEngine struct {
	mu      sync.Mutex
	sizes   map[string]int64
	concat  map[string]int64 // "first|second"
	costs   map[string]int64 // "archive|doc"
	failing map[string]bool
	calls   int
}

func (e *tableEngine) Size(_ context.Context, doc domain.Document) (int64, error) {
	e.count()
	if e.failing[doc.Name] {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "size", errors.New("probe failed"))
	}
	size, ok := e.sizes[doc.Name]
	if !ok {
		return 0, errors.New("unknown document " + doc.Name)
	}
	return size, nil
}

func (e *tableEngine) ConcatSize(_ context.Context, first, second domain.Document) (int64, error) {
	e.count()
	key := first.Name + "|" + second.Name
	if e.failing[key] {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "concat", errors.New("probe failed"))
	}
	size, ok := e.concat[key]
	if !ok {
		return 0, errors.New("unknown pair " + key)
	}
	return size, nil
}

func (e *tableEngine) Cost(_ context.Context, reference string, doc domain.Document) (int64, error) {
	e.count()
	key := reference + "|" + doc.Name
	if e.failing[key] || e.failing[reference] {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "cost", errors.New("probe failed"))
	}
	cost, ok := e.costs[key]
	if !ok {
		return 0, errors.New("unknown cost " + key)
	}
	return cost, nil
}

func (e *tableEngine) count() {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
}

type memCorpus struct {
	docs map[string][]domain.Document
}

func newMemCorpus(docs ...domain.Document) *memCorpus {
	c := &memCorpus{docs: map[string][]domain.Document{}}
	for _, doc := range docs {
		c.docs[doc.Category] = append(c.docs[doc.Category], doc)
	}
	return c
}

func (c *memCorpus) Categories(context.Context) ([]string, error) {
	out := make([]string, 0, len(c.docs))
	for category := range c.docs {
		out = append(out, category)
	}
	sort.Strings(out)
	return out, nil
}

func (c *memCorpus) Documents(_ context.Context, category string) ([]domain.Document, error) {
	docs, ok := c.docs[category]
	if !ok {
		return nil, domain.WrapError(domain.ErrCategoryNotFound, "documents", errors.New(category))
	}
	return append([]domain.Document(nil), docs...), nil
}

func docsOf(category string, names ...string) []domain.Document {
	out := make([]domain.Document, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Document{Name: name, Path: "/corpus/" + category + "/" + name, Category: category})
	}
	return out
}

type memCoreStore struct {
	mu       sync.Mutex
	cores    []domain.Core
	members  map[string][]string
	saved    map[string][]string
	saveErr  error
	coresErr error
}

func newMemCoreStore() *memCoreStore {
	return &memCoreStore{members: map[string][]string{}, saved: map[string][]string{}}
}

func (s *memCoreStore) withCore(category string, members ...string) *memCoreStore {
	s.cores = append(s.cores, domain.Core{Category: category, ArchivePath: "/cores/" + category + ".list"})
	s.members[category] = members
	return s
}

func (s *memCoreStore) Cores(context.Context) ([]domain.Core, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coresErr != nil {
		return nil, s.coresErr
	}
	return append([]domain.Core(nil), s.cores...), nil
}

func (s *memCoreStore) Save(_ context.Context, category string, files []string) (domain.Core, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return domain.Core{}, s.saveErr
	}
	s.saved[category] = append([]string(nil), files...)
	return domain.Core{Category: category, ArchivePath: "/cores/" + category + ".list"}, nil
}

func (s *memCoreStore) Extract(_ context.Context, category, dir string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[category]
	if !ok {
		return nil, domain.WrapError(domain.ErrCategoryNotFound, "extract", errors.New(category))
	}
	docs := make([]domain.Document, 0, len(members))
	for _, name := range members {
		docs = append(docs, domain.NewDocument(filepath.Join(dir, name), category))
	}
	return docs, nil
}

type memCheckpoints struct {
	state   domain.RefinementState
	found   bool
	loadErr error
	saveErr error
	saves   []domain.RefinementState
	deleted bool
}

func (c *memCheckpoints) Load(context.Context, string) (domain.RefinementState, bool, error) {
	if c.loadErr != nil {
		return domain.RefinementState{}, false, c.loadErr
	}
	return c.state, c.found, nil
}

func (c *memCheckpoints) Save(_ context.Context, _ string, state domain.RefinementState) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saves = append(c.saves, state)
	c.state, c.found = state, true
	return nil
}

func (c *memCheckpoints) Delete(context.Context, string) error {
	c.deleted = true
	c.found = false
	return nil
}

type publisherFake struct {
	mu         sync.Mutex
	categories []string
	err        error
}

func (p *publisherFake) PublishCoreUpdated(_ context.Context, category string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.categories = append(p.categories, category)
	return p.err
}

type observerFake struct {
	mu       sync.Mutex
	probes   map[string]int
	failed   int
	accuracy map[string]float64
	steps    map[string]int
}

func newObserverFake() *observerFake {
	return &observerFake{probes: map[string]int{}, accuracy: map[string]float64{}, steps: map[string]int{}}
}

func (o *observerFake) ObserveProbe(operation string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes[operation]++
	if err != nil {
		o.failed++
	}
}

func (o *observerFake) ObserveAccuracy(category string, accuracy float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accuracy[category] = accuracy
}

func (o *observerFake) ObserveRefinementStep(category string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps[category]++
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{"<" + err.Error() + ">"}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}
