package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRun scans a single row into a model.ReportRun.
// The row must contain columns in the order defined by runColumns.
func scanRun(row scannable) (*model.ReportRun, error) {
	var (
		r     model.ReportRun
		stats []byte
	)
	if err := row.Scan(&r.RunID, &r.ProjectID, &r.GeneratedAt, &r.TaskCount, &r.Unresolved, &stats); err != nil {
		return nil, err
	}
	r.Stats = map[string]model.DimensionStats{}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &r.Stats); err != nil {
			return nil, fmt.Errorf("decode stats for %s: %w", r.RunID, err)
		}
	}
	return &r, nil
}

// statsBytes encodes stats for a JSONB column. A nil map is stored as {}.
func statsBytes(stats map[string]model.DimensionStats) ([]byte, error) {
	if stats == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(stats)
}
