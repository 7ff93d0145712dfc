// Package localfs keeps one core archive per category in a directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

type Storage struct {
	basePath string
	archiver ports.Archiver
}

func New(basePath string, archiver ports.Archiver) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/cores"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create cores dir: %w", err)
	}
	return &Storage{basePath: basePath, archiver: archiver}, nil
}

func (s *Storage) Cores(ctx context.Context) ([]domain.Core, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("read cores dir: %w", err)
	}

	ext := s.archiver.Extension()
	var cores []domain.Core
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		category := strings.TrimSuffix(name, ext)
		if category == "" {
			continue
		}
		cores = append(cores, domain.Core{
			Category:    category,
			ArchivePath: filepath.Join(s.basePath, name),
		})
	}
	domain.SortCores(cores)
	return cores, nil
}

// Save builds the category archive under a hidden temporary name and renames
// it over the previous core, so readers never see a partial archive.
func (s *Storage) Save(ctx context.Context, category string, files []string) (domain.Core, error) {
	if err := validCategory(category); err != nil {
		return domain.Core{}, err
	}
	if len(files) == 0 {
		return domain.Core{}, domain.WrapError(domain.ErrInvalidInput, "save core", errors.New("core has no documents"))
	}

	ext := s.archiver.Extension()
	target := s.archivePath(category)
	tmp := filepath.Join(s.basePath, fmt.Sprintf(".%s-%s%s", category, uuid.NewString(), ext))
	defer os.Remove(tmp)

	if err := s.archiver.Create(ctx, tmp, files); err != nil {
		return domain.Core{}, domain.WrapError(domain.ErrCompressionFailure, "save core "+category, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return domain.Core{}, fmt.Errorf("replace core %s: %w", category, err)
	}
	return domain.Core{Category: category, ArchivePath: target}, nil
}

// Extract unpacks the category core into dir and lists the documents found.
func (s *Storage) Extract(ctx context.Context, category, dir string) ([]domain.Document, error) {
	if err := validCategory(category); err != nil {
		return nil, err
	}
	archive := s.archivePath(category)
	if _, err := os.Stat(archive); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrCategoryNotFound, "extract core", fmt.Errorf("no core for %s", category))
		}
		return nil, fmt.Errorf("stat core %s: %w", category, err)
	}
	if err := s.archiver.Extract(ctx, archive, dir); err != nil {
		return nil, domain.WrapError(domain.ErrCompressionFailure, "extract core "+category, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extracted core: %w", err)
	}
	docs := make([]domain.Document, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		docs = append(docs, domain.NewDocument(filepath.Join(dir, entry.Name()), category))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *Storage) archivePath(category string) string {
	return filepath.Join(s.basePath, category+s.archiver.Extension())
}

func validCategory(category string) error {
	if category == "" || category == "." || category == ".." ||
		strings.HasPrefix(category, ".") || strings.ContainsAny(category, `/\`) {
		return domain.WrapError(domain.ErrInvalidInput, "core category", fmt.Errorf("invalid category name %q", category))
	}
	return nil
}
