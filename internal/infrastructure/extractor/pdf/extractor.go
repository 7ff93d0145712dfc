// Package pdf converts a tree of PDF files into the plain-text corpus
// layout, mirroring the directory structure.
package pdf

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

type Result struct {
	Converted int `json:"converted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Extractor struct {
	workers int
	logger  *slog.Logger
}

func NewExtractor(workers int, logger *slog.Logger) *Extractor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{workers: workers, logger: logger}
}

// ExtractTree converts every .pdf under inDir to a .txt under outDir.
// Outputs that already exist are left alone; a failing file is logged and
// counted without stopping the others.
func (e *Extractor) ExtractTree(ctx context.Context, inDir, outDir string) (Result, error) {
	var jobs [][2]string
	err := filepath.WalkDir(inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		rel, err := filepath.Rel(inDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(outDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".txt")
		jobs = append(jobs, [2]string{path, target})
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("walk pdf tree: %w", err)
	}

	var converted, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, job := range jobs {
		src, dst := job[0], job[1]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := os.Stat(dst); err == nil {
				skipped.Add(1)
				return nil
			}
			if err := convert(src, dst); err != nil {
				failed.Add(1)
				e.logger.Warn("pdf_extract_failed", "source", src, "error", err)
				return nil
			}
			converted.Add(1)
			e.logger.Debug("pdf_extracted", "source", src, "target", dst)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Converted: int(converted.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	e.logger.Info("pdf_extract_finished",
		"converted", res.Converted,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

func convert(src, dst string) (err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(src)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return fmt.Errorf("read pdf text: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	if _, err := io.Copy(tmp, text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write text: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close text: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish text: %w", err)
	}
	return nil
}
