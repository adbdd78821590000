package sync

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/report"
)

// FormatVersion is the snapshot format written in the header record.
const FormatVersion = "1"

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	RunID          string    `json:"run_id"`
	ProjectID      string    `json:"project_id"`
	TaskCount      int       `json:"task_count"`
	DimensionCount int       `json:"dimension_count"`
	Unresolved     []int     `json:"unresolved,omitempty"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes rep as JSONL to w: a header, one "dimension" record per
// dimension in option order, one "status" record per task with a rollup
// (sorted by task ID), then one "row" record per status matrix row.
func ExportJSONL(rep *model.AggregateReport, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:        FormatVersion,
		Type:           "header",
		Timestamp:      rep.GeneratedAt.UTC(),
		RunID:          rep.RunID,
		ProjectID:      rep.ProjectID,
		TaskCount:      rep.TaskCount,
		DimensionCount: len(rep.Dimensions),
		Unresolved:     rep.Fetch.Unresolved,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, d := range report.Summaries(rep) {
		if err := enc.Encode(record{Type: "dimension", Data: d}); err != nil {
			return fmt.Errorf("encode dimension %s: %w", d.Name, err)
		}
	}

	for _, ts := range statuses(rep) {
		if err := enc.Encode(record{Type: "status", Data: ts}); err != nil {
			return fmt.Errorf("encode status %d: %w", ts.TaskID, err)
		}
	}

	for _, row := range report.Matrix(rep).Rows {
		if err := enc.Encode(record{Type: "row", Data: row}); err != nil {
			return fmt.Errorf("encode row %d: %w", row.TaskID, err)
		}
	}

	return nil
}

// statuses flattens StatusByTask into records sorted by task ID. Subjects
// come from the dimension buckets, falling back to the template trees.
func statuses(rep *model.AggregateReport) []model.TaskStatuses {
	type label struct{ subject, status string }
	labels := make(map[int]label)
	for _, bucket := range rep.TasksByDimension {
		for _, t := range bucket {
			labels[t.ID] = label{t.Subject, t.StatusLabel()}
		}
	}
	var walk func(trees []*model.TaskTree)
	walk = func(trees []*model.TaskTree) {
		for _, tr := range trees {
			if _, ok := labels[tr.ID]; !ok {
				labels[tr.ID] = label{tr.Subject, tr.Status}
			}
			walk(tr.Children)
		}
	}
	walk(rep.TemplateTasks)

	ids := make([]int, 0, len(rep.StatusByTask))
	for id := range rep.StatusByTask {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]model.TaskStatuses, 0, len(ids))
	for _, id := range ids {
		l := labels[id]
		out = append(out, model.TaskStatuses{
			TaskID:   id,
			Subject:  l.subject,
			Status:   l.status,
			Statuses: rep.StatusByTask[id],
		})
	}
	return out
}

// ExpandPath fills the {project}, {run} and {date} placeholders of a
// destination path. {date} is the run's generation day in UTC (2006-01-02).
func ExpandPath(tmpl string, run *model.ReportRun) string {
	return strings.NewReplacer(
		"{project}", run.ProjectID,
		"{run}", run.RunID,
		"{date}", run.GeneratedAt.UTC().Format(time.DateOnly),
	).Replace(tmpl)
}
