package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
)

// stagedName is the archive entry name used for standalone and concatenated
// probes so that entry headers do not differ between measurements.
const stagedName = "document.txt"

// appendedName is the entry a document is appended under when measuring a
// cost. Cores only hold .txt documents, so it never collides with one.
const appendedName = "appended.document"

type OracleOptions struct {
	ScratchDir   string
	ProbeTimeout time.Duration
	Observer     ports.ProbeObserver
}

// CompressionOracle measures compressed sizes through an Archiver. Every
// measurement runs in its own scratch directory which is removed before the
// call returns.
type CompressionOracle struct {
	archiver     ports.Archiver
	scratchDir   string
	probeTimeout time.Duration
	observer     ports.ProbeObserver
}

func NewCompressionOracle(archiver ports.Archiver, opts OracleOptions) *CompressionOracle {
	return &CompressionOracle{
		archiver:     archiver,
		scratchDir:   opts.ScratchDir,
		probeTimeout: opts.ProbeTimeout,
		observer:     opts.Observer,
	}
}

// CompressedSize archives the given files into a fresh archive and reports its size.
func (o *CompressionOracle) CompressedSize(ctx context.Context, files ...string) (int64, error) {
	var size int64
	err := o.probe(ctx, "size", func(probeCtx context.Context, dir string) error {
		var err error
		size, err = o.archiveFiles(probeCtx, dir, files)
		return err
	})
	if err != nil {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "compressed size", err)
	}
	return size, nil
}

func (o *CompressionOracle) Size(ctx context.Context, doc domain.Document) (int64, error) {
	var size int64
	err := o.probe(ctx, "size", func(probeCtx context.Context, dir string) error {
		staged := filepath.Join(dir, stagedName)
		if err := concatFiles(staged, doc.Path); err != nil {
			return err
		}
		var err error
		size, err = o.archiveFiles(probeCtx, dir, []string{staged})
		return err
	})
	if err != nil {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "size "+doc.Name, err)
	}
	return size, nil
}

// ConcatSize is the compressed size of first's bytes followed by second's bytes.
func (o *CompressionOracle) ConcatSize(ctx context.Context, first, second domain.Document) (int64, error) {
	var size int64
	err := o.probe(ctx, "concat", func(probeCtx context.Context, dir string) error {
		staged := filepath.Join(dir, stagedName)
		if err := concatFiles(staged, first.Path, second.Path); err != nil {
			return err
		}
		var err error
		size, err = o.archiveFiles(probeCtx, dir, []string{staged})
		return err
	})
	if err != nil {
		return 0, domain.WrapError(
			domain.ErrCompressionFailure,
			fmt.Sprintf("concat size %s+%s", first.Name, second.Name),
			err,
		)
	}
	return size, nil
}

// Cost is the number of bytes the archive grows by when doc is appended to a
// copy of the reference archive. It can be negative.
func (o *CompressionOracle) Cost(ctx context.Context, reference string, doc domain.Document) (int64, error) {
	var cost int64
	err := o.probe(ctx, "cost", func(probeCtx context.Context, dir string) error {
		archive := filepath.Join(dir, "reference"+o.archiver.Extension())
		if err := copyFile(archive, reference); err != nil {
			return fmt.Errorf("copy reference archive: %w", err)
		}
		before, err := archiveSize(archive)
		if err != nil {
			return err
		}
		staged := filepath.Join(dir, appendedName)
		if err := concatFiles(staged, doc.Path); err != nil {
			return err
		}
		if err := o.archiver.Append(probeCtx, archive, []string{staged}); err != nil {
			return fmt.Errorf("append document: %w", err)
		}
		after, err := archiveSize(archive)
		if err != nil {
			return err
		}
		cost = after - before
		return nil
	})
	if err != nil {
		return 0, domain.WrapError(domain.ErrCompressionFailure, "cost "+doc.Name, err)
	}
	return cost, nil
}

func (o *CompressionOracle) probe(ctx context.Context, operation string, fn func(context.Context, string) error) (err error) {
	start := time.Now()
	defer func() {
		if o.observer != nil {
			o.observer.ObserveProbe(operation, time.Since(start), err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if o.scratchDir != "" {
		if err := os.MkdirAll(o.scratchDir, 0o755); err != nil {
			return fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(o.scratchDir, "probe-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	probeCtx := ctx
	if o.probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, o.probeTimeout)
		defer cancel()
	}
	return fn(probeCtx, dir)
}

func (o *CompressionOracle) archiveFiles(ctx context.Context, dir string, files []string) (int64, error) {
	if len(files) == 0 {
		return 0, errors.New("no files to compress")
	}
	archive := filepath.Join(dir, "probe"+o.archiver.Extension())
	if err := o.archiver.Create(ctx, archive, files); err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	return archiveSize(archive)
}

func archiveSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	if info.Size() <= 0 {
		return 0, fmt.Errorf("archive %s is empty", filepath.Base(path))
	}
	return info.Size(), nil
}

func concatFiles(dst string, sources ...string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create staged file: %w", err)
	}
	for _, src := range sources {
		if err := appendFile(out, src); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close staged file: %w", err)
	}
	return nil
}

func appendFile(out io.Writer, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy document: %w", err)
	}
	return nil
}

func copyFile(dst, src string) error {
	return concatFiles(dst, src)
}
