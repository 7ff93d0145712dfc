package domain

import (
	"path/filepath"
	"sort"
)

// Document is a read-only text file identified by its file name.
type Document struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Category string `json:"category,omitempty"`
}

// Core is the reference archive of a category. The archive is a cache:
// it can always be rebuilt from the documents that were put into it.
type Core struct {
	Category    string `json:"category"`
	ArchivePath string `json:"archive_path"`
}

func NewDocument(path, category string) Document {
	return Document{
		Name:     filepath.Base(path),
		Path:     path,
		Category: category,
	}
}

// SortDocuments orders documents by category, then by name.
func SortDocuments(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Category != docs[j].Category {
			return docs[i].Category < docs[j].Category
		}
		return docs[i].Name < docs[j].Name
	})
}

func SortCores(cores []Core) {
	sort.SliceStable(cores, func(i, j int) bool {
		return cores[i].Category < cores[j].Category
	})
}

func DocumentNames(docs []Document) []string {
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return names
}

func DocumentPaths(docs []Document) []string {
	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		paths = append(paths, doc.Path)
	}
	return paths
}
