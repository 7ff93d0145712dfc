// Package localfs reads a labeled corpus laid out as one directory per
// category holding .txt documents.
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

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

const documentExt = ".txt"

type Corpus struct {
	root string
}

func New(root string) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", root)
	}
	return &Corpus{root: root}, nil
}

func (c *Corpus) Root() string { return c.root }

func (c *Corpus) Categories(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read corpus root: %w", err)
	}
	var categories []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			categories = append(categories, entry.Name())
		}
	}
	sort.Strings(categories)
	return categories, nil
}

// Documents lists the non-empty .txt files of a category sorted by name.
func (c *Corpus) Documents(ctx context.Context, category string) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if category == "" || strings.ContainsAny(category, `/\`) || category == ".." {
		return nil, domain.WrapError(domain.ErrInvalidInput, "corpus documents", fmt.Errorf("invalid category %q", category))
	}

	dir := filepath.Join(c.root, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrCategoryNotFound, "corpus documents", fmt.Errorf("category %s", category))
		}
		return nil, fmt.Errorf("read category %s: %w", category, err)
	}

	var docs []domain.Document
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), documentExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		docs = append(docs, domain.NewDocument(filepath.Join(dir, entry.Name()), category))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}
