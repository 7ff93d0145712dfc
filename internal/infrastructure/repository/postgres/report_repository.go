package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

// ReportRepository keeps the history of evaluation runs.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ReportRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent CLI and API startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS evaluation_runs (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	total INTEGER NOT NULL,
	correct INTEGER NOT NULL,
	undetermined INTEGER NOT NULL,
	accuracy DOUBLE PRECISION NOT NULL,
	predictions JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE TABLE IF NOT EXISTS evaluation_categories (
	run_id TEXT NOT NULL REFERENCES evaluation_runs(run_id) ON DELETE CASCADE,
	category TEXT NOT NULL,
	total INTEGER NOT NULL,
	correct INTEGER NOT NULL,
	undetermined INTEGER NOT NULL,
	accuracy DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, category)
);

CREATE INDEX IF NOT EXISTS idx_evaluation_runs_started_at ON evaluation_runs(started_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ReportRepository) SaveEvaluation(ctx context.Context, report domain.EvaluationReport) error {
	predictions, err := json.Marshal(report.Predictions)
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const runQuery = `
INSERT INTO evaluation_runs (run_id, started_at, finished_at, total, correct, undetermined, accuracy, predictions)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
`
	if _, err := tx.ExecContext(ctx, runQuery,
		report.RunID,
		report.StartedAt,
		report.FinishedAt,
		report.Total,
		report.Correct,
		report.Undetermined,
		report.Accuracy(),
		string(predictions),
	); err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}

	categories := make([]string, 0, len(report.PerCategory))
	for category := range report.PerCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	const categoryQuery = `
INSERT INTO evaluation_categories (run_id, category, total, correct, undetermined, accuracy)
VALUES ($1, $2, $3, $4, $5, $6)
`
	for _, category := range categories {
		stats := report.PerCategory[category]
		if _, err := tx.ExecContext(ctx, categoryQuery,
			report.RunID,
			category,
			stats.Total,
			stats.Correct,
			stats.Undetermined,
			stats.Accuracy(),
		); err != nil {
			return fmt.Errorf("insert category %s: %w", category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report tx: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs without per-document predictions.
func (r *ReportRepository) ListRuns(ctx context.Context, limit int) ([]domain.EvaluationReport, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
SELECT r.run_id, r.started_at, r.finished_at, r.total, r.correct, r.undetermined,
	c.category, c.total, c.correct, c.undetermined
FROM (
	SELECT run_id, started_at, finished_at, total, correct, undetermined
	FROM evaluation_runs
	ORDER BY started_at DESC
	LIMIT $1
) r
LEFT JOIN evaluation_categories c ON c.run_id = r.run_id
ORDER BY r.started_at DESC, c.category
`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query evaluation runs: %w", err)
	}
	defer rows.Close()

	var out []domain.EvaluationReport
	index := map[string]int{}
	for rows.Next() {
		var (
			run      domain.EvaluationReport
			category sql.NullString
			total    sql.NullInt64
			correct  sql.NullInt64
			undet    sql.NullInt64
		)
		if err := rows.Scan(
			&run.RunID, &run.StartedAt, &run.FinishedAt, &run.Total, &run.Correct, &run.Undetermined,
			&category, &total, &correct, &undet,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation run: %w", err)
		}
		pos, ok := index[run.RunID]
		if !ok {
			run.PerCategory = map[string]domain.CategoryStats{}
			out = append(out, run)
			pos = len(out) - 1
			index[run.RunID] = pos
		}
		if category.Valid {
			out[pos].PerCategory[category.String] = domain.CategoryStats{
				Total:        int(total.Int64),
				Correct:      int(correct.Int64),
				Undetermined: int(undet.Int64),
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation runs: %w", err)
	}
	return out, nil
}
