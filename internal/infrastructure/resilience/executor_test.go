package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastConfig(breaker bool) Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         2 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          breaker,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false), nil)

	attempts := 0
	errBusy := errors.New("archive locked")
	err := exec.Execute(context.Background(), "7z.add", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errBusy
		}
		return nil
	}, func(err error) ErrorClassification {
		if errors.Is(err, errBusy) {
			return Transient
		}
		return Permanent
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteStopsOnPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false), nil)

	attempts := 0
	errMissing := errors.New("executable not found")
	err := exec.Execute(context.Background(), "7z.add", func(context.Context) error {
		attempts++
		return errMissing
	}, nil)
	if !errors.Is(err, errMissing) {
		t.Fatalf("expected missing binary error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryCanceledContext(t *testing.T) {
	exec := NewExecutor(fastConfig(false), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "7z.add", func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}, func(error) ErrorClassification { return Transient })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	errCrash := errors.New("7z crashed")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "7z.add", func(context.Context) error {
			return errCrash
		}, nil)
		if !errors.Is(err, errCrash) {
			t.Fatalf("expected crash error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "7z.add", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen() = false for %v", err)
	}
}

func TestExecuteIgnoredErrorsKeepCircuitClosed(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	for i := 0; i < 4; i++ {
		_ = exec.Execute(context.Background(), "7z.extract", func(context.Context) error {
			return context.Canceled
		}, nil)
	}

	called := false
	err := exec.Execute(context.Background(), "7z.extract", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err != nil || !called {
		t.Fatalf("expected closed circuit, called=%v err=%v", called, err)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond}.normalize()
	def := DefaultConfig()
	if cfg.RetryMaxAttempts != def.RetryMaxAttempts {
		t.Fatalf("expected default attempts %d, got %d", def.RetryMaxAttempts, cfg.RetryMaxAttempts)
	}
	if cfg.RetryMaxBackoff != time.Second {
		t.Fatalf("expected max backoff raised to initial backoff, got %s", cfg.RetryMaxBackoff)
	}
	if got := cfg.nextBackoff(time.Second); got != time.Second {
		t.Fatalf("expected capped backoff, got %s", got)
	}
}
