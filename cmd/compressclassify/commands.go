package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/infrastructure/extractor/pdf"
	"github.com/Trivonta/compress-classify/internal/infrastructure/report/xlsx"
)

func (c *cli) classifyCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify FILE",
		Short: "Print the predicted category of a text document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := filepath.Abs(args[0])
			if err != nil {
				return domain.WrapError(domain.ErrInvalidInput, "classify", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				return domain.WrapError(domain.ErrInvalidInput, "classify", err)
			}
			if info.IsDir() {
				return domain.WrapError(domain.ErrInvalidInput, "classify", fmt.Errorf("%s is a directory", args[0]))
			}

			app, err := c.open(ctx, false)
			if err != nil {
				return err
			}
			cores, err := app.Cores.Cores(ctx)
			if err != nil {
				return err
			}

			verdict, err := app.ClassifyUC.Classify(ctx, domain.NewDocument(path, ""), cores)
			if asJSON {
				if encErr := writeJSON(c.stdout, verdict); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				if verdict.Undetermined {
					newPrinter(c.stderr).failures(verdict.Failures)
				}
				return err
			}
			if !asJSON {
				fmt.Fprintln(c.stdout, verdict.Category)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full verdict as JSON")
	return cmd
}

func (c *cli) evaluateCommand() *cobra.Command {
	var (
		xlsxPath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Classify the whole labeled corpus and report accuracy per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			report, err := app.EvaluateUC.EvaluateCorpus(cmd.Context())
			if err != nil {
				return err
			}
			if xlsxPath != "" {
				if err := xlsx.Export(xlsxPath, report); err != nil {
					return err
				}
				c.logger.Info("evaluation_exported", "path", xlsxPath, "run_id", report.RunID)
			}
			if asJSON {
				return writeJSON(c.stdout, report)
			}
			newPrinter(c.stdout).evaluation(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also export the report to an .xlsx workbook")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (c *cli) buildCoresCommand() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "build-cores",
		Short: "Select and store a core for every corpus category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size <= 0 {
				size = c.cfg.CoreSize
			}
			app, err := c.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			reports, err := app.SelectUC.BuildCores(cmd.Context(), size)
			newPrinter(c.stdout).selections(reports)
			if err != nil {
				return err
			}

			failed := 0
			for _, report := range reports {
				if report.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d categories failed", failed, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "documents per core (default CORE_SIZE)")
	return cmd
}

func (c *cli) refineCommand() *cobra.Command {
	var (
		category string
		worst    bool
		target   int
		seed     uint64
	)
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Grow a category core greedily against labeled accuracy, resuming from its checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (category == "") == !worst {
				return domain.WrapError(domain.ErrInvalidInput, "refine", errors.New("exactly one of --category or --worst is required"))
			}
			if target > 0 {
				c.cfg.RefineTargetSize = target
			}
			if cmd.Flags().Changed("seed") {
				c.cfg.RefineSeed = seed
			}

			app, err := c.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			out := newPrinter(c.stdout)

			var report domain.RefinementReport
			if worst {
				var evaluation domain.EvaluationReport
				evaluation, report, err = app.RefineUC.RefineWorst(cmd.Context())
				if evaluation.RunID != "" {
					out.evaluation(evaluation)
				}
			} else {
				report, err = app.RefineUC.Refine(cmd.Context(), category)
			}
			if err == nil || len(report.Steps) > 0 {
				out.refinement(report)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category to refine")
	cmd.Flags().BoolVar(&worst, "worst", false, "evaluate first and refine the category with the lowest accuracy")
	cmd.Flags().IntVar(&target, "target", 0, "target core size (default REFINE_TARGET_SIZE)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "stub sampling seed (default REFINE_SEED)")
	return cmd
}

func (c *cli) extractPDFCommand() *cobra.Command {
	var inDir, outDir string
	cmd := &cobra.Command{
		Use:   "extract-pdf",
		Short: "Convert a tree of PDFs into a text corpus with the same layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			extractor := pdf.NewExtractor(c.cfg.Workers, c.logger)
			result, err := extractor.ExtractTree(cmd.Context(), inDir, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "converted %d, skipped %d, failed %d\n", result.Converted, result.Skipped, result.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&inDir, "in", "", "directory of PDFs, one subdirectory per category")
	cmd.Flags().StringVar(&outDir, "out", "", "corpus root to write .txt files into")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (c *cli) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent evaluation runs stored in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.PostgresDSN == "" {
				return domain.WrapError(domain.ErrInvalidInput, "history", errors.New("POSTGRES_DSN is not set"))
			}
			app, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			runs, err := app.Reports.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			newPrinter(c.stdout).runs(runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
