// Package jsonfile persists refinement checkpoints as one JSON file per
// category. Writes go through a synced temp file and a rename.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Path(category string) string {
	return filepath.Join(s.dir, "checkpoint_"+category+".json")
}

func (s *Store) Load(ctx context.Context, category string) (domain.RefinementState, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.RefinementState{}, false, err
	}
	var state domain.RefinementState
	err := readJSONStrict(s.Path(category), &state)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.RefinementState{}, false, nil
	}
	if err != nil {
		return domain.RefinementState{}, false, domain.WrapError(domain.ErrCheckpointCorrupt, "load checkpoint "+category, err)
	}
	if state.Iteration < 1 {
		return domain.RefinementState{}, false, domain.WrapError(
			domain.ErrCheckpointCorrupt,
			"load checkpoint "+category,
			fmt.Errorf("iteration must be positive, got %d", state.Iteration),
		)
	}
	return state, true, nil
}

func (s *Store) Save(ctx context.Context, category string, state domain.RefinementState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if category == "" || strings.ContainsAny(category, `/\`) {
		return domain.WrapError(domain.ErrInvalidInput, "save checkpoint", fmt.Errorf("invalid category %q", category))
	}
	if state.Selected == nil {
		state.Selected = []string{}
	}
	if state.Remaining == nil {
		state.Remaining = []string{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomicDurable(s.Path(category), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", category, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, category string) error {
	if err := os.Remove(s.Path(category)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", category, err)
	}
	return nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
