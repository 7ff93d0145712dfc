package xlsx

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

func TestExportWritesSummaryAndPredictions(t *testing.T) {
	report := domain.EvaluationReport{
		RunID:        "run-1",
		StartedAt:    time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC),
		Total:        3,
		Correct:      2,
		Undetermined: 1,
		PerCategory: map[string]domain.CategoryStats{
			"math":    {Total: 1, Correct: 1},
			"physics": {Total: 2, Correct: 1, Undetermined: 1},
		},
		Predictions: []domain.Prediction{
			{Document: "m1.txt", Category: "math", Predicted: "math"},
			{Document: "p1.txt", Category: "physics", Predicted: "physics"},
			{Document: "p2.txt", Category: "physics", Undetermined: true},
		},
	}
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, Export(path, report))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, predictionsSheet}, f.GetSheetList())

	runID, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	best, err := f.GetCellValue(summarySheet, "A9")
	require.NoError(t, err)
	assert.Equal(t, "math", best)

	rows, err := f.GetRows(predictionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "p2.txt", rows[3][0])
	assert.Equal(t, "TRUE", rows[3][3])
}
