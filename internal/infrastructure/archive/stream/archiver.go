// Package stream keeps documents in a tar stream compressed by a single
// codec. Appending rewrites the stream so the new entry is compressed with
// the existing entries in its window, like a solid 7z archive.
package stream

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// entryTime keeps headers identical across runs so equal inputs give equal sizes.
var entryTime = time.Unix(0, 0).UTC()

type Archiver struct {
	codec Codec
}

func New(codec Codec) *Archiver {
	return &Archiver{codec: codec}
}

func (a *Archiver) Extension() string {
	return ".tar" + a.codec.Extension()
}

func (a *Archiver) Create(ctx context.Context, archive string, files []string) error {
	if len(files) == 0 {
		return errors.New("no files to archive")
	}
	return a.rewrite(ctx, archive, func(tw *tar.Writer) error {
		return writeFiles(ctx, tw, files)
	})
}

// ErrDuplicateEntry is returned by Append when an appended file would share
// its entry name with an existing entry or another appended file.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

// Append adds files to an existing archive. The archive is left untouched
// when any appended name is already taken.
func (a *Archiver) Append(ctx context.Context, archive string, files []string) error {
	if len(files) == 0 {
		return errors.New("no files to append")
	}
	appended := make(map[string]bool, len(files))
	for _, file := range files {
		name := filepath.Base(file)
		if appended[name] {
			return fmt.Errorf("append %s: %w", name, ErrDuplicateEntry)
		}
		appended[name] = true
	}

	src, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()
	zr, err := a.codec.NewReader(src)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", a.codec.Name(), err)
	}
	defer zr.Close()

	return a.rewrite(ctx, archive, func(tw *tar.Writer) error {
		tr := tar.NewReader(zr)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("read archive entry: %w", err)
			}
			if appended[hdr.Name] {
				return fmt.Errorf("append %s: %w", hdr.Name, ErrDuplicateEntry)
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("write entry header: %w", err)
			}
			if _, err := io.Copy(tw, tr); err != nil {
				return fmt.Errorf("copy entry %s: %w", hdr.Name, err)
			}
		}
		return writeFiles(ctx, tw, files)
	})
}

func (a *Archiver) Extract(ctx context.Context, archive, dir string) error {
	src, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()
	zr, err := a.codec.NewReader(src)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", a.codec.Name(), err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}

	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !filepath.IsLocal(hdr.Name) {
			return fmt.Errorf("archive entry %q escapes extract dir", hdr.Name)
		}
		if err := extractEntry(tr, filepath.Join(dir, hdr.Name)); err != nil {
			return err
		}
	}
}

// rewrite writes a new archive next to the target and renames it into
// place, so a failed write leaves the previous archive intact.
func (a *Archiver) rewrite(ctx context.Context, archive string, fill func(*tar.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(archive), "."+filepath.Base(archive)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	zw, err := a.codec.NewWriter(tmp)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("open %s writer: %w", a.codec.Name(), err)
	}
	tw := tar.NewWriter(zw)
	if err := fill(tw); err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		return fmt.Errorf("close tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("close %s stream: %w", a.codec.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, archive); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	tmpName = ""
	return nil
}

func writeFiles(ctx context.Context, tw *tar.Writer, files []string) error {
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFile(tw, file); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat document: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     filepath.Base(path),
		Size:     info.Size(),
		Mode:     0o644,
		ModTime:  entryTime,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write entry header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy document %s: %w", hdr.Name, err)
	}
	return nil
}

func extractEntry(r io.Reader, target string) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(0o644))
	if err != nil {
		return fmt.Errorf("create extracted file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write extracted file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close extracted file: %w", err)
	}
	return nil
}
