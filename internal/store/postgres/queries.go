package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// runColumns is the column list used for SELECT statements on report_runs.
const runColumns = `run_id, project_id, generated_at, task_count, unresolved, stats`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func querySaveRun(ctx context.Context, db executor, run *model.ReportRun) error {
	stats, err := statsBytes(run.Stats)
	if err != nil {
		return fmt.Errorf("encode stats for %s: %w", run.RunID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO report_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			generated_at = EXCLUDED.generated_at,
			task_count = EXCLUDED.task_count,
			unresolved = EXCLUDED.unresolved,
			stats = EXCLUDED.stats`,
		run.RunID,
		run.ProjectID,
		run.GeneratedAt.UTC(),
		run.TaskCount,
		run.Unresolved,
		stats,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func queryListRuns(ctx context.Context, db executor, projectID string, limit int) ([]*model.ReportRun, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if projectID == "" {
		rows, err = db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM report_runs ORDER BY generated_at DESC, run_id LIMIT $1`, limit)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM report_runs WHERE project_id = $1 ORDER BY generated_at DESC, run_id LIMIT $2`,
			projectID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.ReportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
