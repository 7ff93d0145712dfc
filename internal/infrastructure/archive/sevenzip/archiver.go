// Package sevenzip drives the external 7z binary. Each call is a separate
// process bounded by the caller's context.
package sevenzip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Trivonta/compress-classify/internal/infrastructure/resilience"
)

const (
	exitWarning     = 1
	exitFatal       = 2
	exitCommandLine = 7
	exitNoMemory    = 8
)

type Options struct {
	Binary   string
	Level    int
	Executor *resilience.Executor
	Logger   *slog.Logger
}

type Archiver struct {
	binary   string
	level    int
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(opts Options) *Archiver {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "7z"
	}
	level := opts.Level
	if level < 0 || level > 9 {
		level = 9
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		binary:   binary,
		level:    level,
		executor: opts.Executor,
		logger:   logger,
	}
}

func (a *Archiver) Extension() string { return ".7z" }

// Available reports whether the configured binary can be found.
func (a *Archiver) Available() error {
	if _, err := exec.LookPath(a.binary); err != nil {
		return fmt.Errorf("7z binary %q: %w", a.binary, err)
	}
	return nil
}

func (a *Archiver) Create(ctx context.Context, archive string, files []string) error {
	if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale archive: %w", err)
	}
	return a.add(ctx, "7z.create", archive, files)
}

// Append adds files to archive. 7z updates an entry in place when its name
// is already present, so callers append under names the archive cannot hold.
func (a *Archiver) Append(ctx context.Context, archive string, files []string) error {
	return a.add(ctx, "7z.append", archive, files)
}

func (a *Archiver) Extract(ctx context.Context, archive, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}
	return a.run(ctx, "7z.extract", []string{"x", archive, "-o" + dir, "-y", "-bd"})
}

func (a *Archiver) add(ctx context.Context, operation, archive string, files []string) error {
	if len(files) == 0 {
		return errors.New("no files to archive")
	}
	args := []string{"a", "-t7z", "-mx=" + strconv.Itoa(a.level), "-y", "-bd", archive}
	for _, file := range files {
		// Absolute paths make 7z store the bare file name.
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", file, err)
		}
		args = append(args, abs)
	}
	return a.run(ctx, operation, args)
}

func (a *Archiver) run(ctx context.Context, operation string, args []string) error {
	call := func(callCtx context.Context) error {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(callCtx, a.binary, args...)
		cmd.Stdout = io.Discard
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctxErr := callCtx.Err(); ctxErr != nil {
				return fmt.Errorf("%s: %w", operation, ctxErr)
			}
			return &Error{Operation: operation, Stderr: strings.TrimSpace(stderr.String()), Err: err}
		}
		return nil
	}

	if a.executor == nil {
		return call(ctx)
	}
	err := a.executor.Execute(ctx, operation, call, classify7zError)
	if err != nil && resilience.IsCircuitOpen(err) {
		a.logger.Warn("sevenzip_circuit_open", "operation", operation, "error", err)
	}
	return err
}

// Error carries the stderr of a failed 7z invocation.
type Error struct {
	Operation string
	Stderr    string
	Err       error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Operation, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the 7z exit status, or -1 when the process did not run.
func (e *Error) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func classify7zError(err error) resilience.ErrorClassification {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return resilience.Permanent
	}
	var runErr *Error
	if !errors.As(err, &runErr) {
		return resilience.Permanent
	}
	switch runErr.ExitCode() {
	case exitFatal, exitNoMemory:
		return resilience.Transient
	case exitWarning, exitCommandLine:
		return resilience.Permanent
	default:
		return resilience.Permanent
	}
}
