// Package xlsx exports evaluation reports as spreadsheets.
package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

const (
	summarySheet     = "Summary"
	predictionsSheet = "Predictions"
)

// Export writes a two-sheet workbook: per-category accuracy and the
// per-document predictions.
func Export(path string, report domain.EvaluationReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeSummary(f, report); err != nil {
		return err
	}
	if _, err := f.NewSheet(predictionsSheet); err != nil {
		return fmt.Errorf("create predictions sheet: %w", err)
	}
	if err := writePredictions(f, report); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, report domain.EvaluationReport) error {
	rows := [][]any{
		{"run_id", report.RunID},
		{"started_at", report.StartedAt.Format("2006-01-02 15:04:05")},
		{"total", report.Total},
		{"correct", report.Correct},
		{"undetermined", report.Undetermined},
		{"accuracy", report.Accuracy()},
		{},
		{"category", "total", "correct", "undetermined", "accuracy"},
	}
	for _, category := range report.CategoriesByAccuracy() {
		stats := report.PerCategory[category]
		rows = append(rows, []any{category, stats.Total, stats.Correct, stats.Undetermined, stats.Accuracy()})
	}
	return setRows(f, summarySheet, rows)
}

func writePredictions(f *excelize.File, report domain.EvaluationReport) error {
	rows := [][]any{{"document", "category", "predicted", "undetermined"}}
	for _, p := range report.Predictions {
		rows = append(rows, []any{p.Document, p.Category, p.Predicted, p.Undetermined})
	}
	return setRows(f, predictionsSheet, rows)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
