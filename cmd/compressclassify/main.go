package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Trivonta/compress-classify/internal/bootstrap"
	"github.com/Trivonta/compress-classify/internal/config"
	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/observability/logging"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitUndetermined = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to a process exit code:
// 2 when a document could not be classified, 1 for any other failure.
// Failures after cancellation are interruptions, never undetermined verdicts.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	defer c.close()

	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil:
		fmt.Fprintln(stderr, "error: interrupted:", err)
		return exitFailure
	case domain.IsKind(err, domain.ErrUndetermined):
		fmt.Fprintln(stderr, "error:", err)
		return exitUndetermined
	default:
		fmt.Fprintln(stderr, "error:", err)
		return exitFailure
	}
}

type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger

	app           *bootstrap.App
	metricsServer *http.Server
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "compressclassify",
		Short: "Classify text documents by compression distance to category cores",
		Long: `compressclassify builds a small reference core per category and classifies
a document by the category whose core explains it with the fewest extra
compressed bytes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.LoadFile(c.configPath)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			c.cfg = cfg
			c.logger = logging.NewJSONLoggerTo(c.stderr, "compressclassify", cfg.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file layered under the environment")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		c.classifyCommand(),
		c.evaluateCommand(),
		c.buildCoresCommand(),
		c.refineCommand(),
		c.extractPDFCommand(),
		c.historyCommand(),
	)
	return root
}

// open wires the application on first use. Commands adjust c.cfg before
// calling it.
func (c *cli) open(ctx context.Context, requireCorpus bool) (*bootstrap.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	app, err := bootstrap.New(ctx, c.cfg, c.logger, bootstrap.Options{
		Service:       "compressclassify",
		RequireCorpus: requireCorpus,
	})
	if err != nil {
		return nil, err
	}
	c.app = app

	if c.cfg.MetricsAddr != "" {
		c.metricsServer = &http.Server{
			Addr:              c.cfg.MetricsAddr,
			Handler:           app.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := c.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Warn("cli_metrics_server_failed", "addr", c.cfg.MetricsAddr, "error", err)
			}
		}()
	}
	return app, nil
}

func (c *cli) close() {
	if c.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.metricsServer.Shutdown(ctx)
		cancel()
	}
	if c.app != nil {
		c.app.Close()
	}
}
