package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// renderMatrix prints the template tasks as rows with one status column per
// dimension. Subjects are indented by depth.
func renderMatrix(w io.Writer, m *model.StatusMatrix) {
	tw := newTable(w)
	header := table.Row{"ID", "Task"}
	for _, d := range m.Dimensions {
		header = append(header, d)
	}
	tw.AppendHeader(header)
	for _, row := range m.Rows {
		r := table.Row{row.TaskID, strings.Repeat("  ", row.Depth) + row.Subject}
		for _, c := range row.Statuses {
			r = append(r, ui.RenderCategory(c))
		}
		tw.AppendRow(r)
	}
	tw.Render()
	fmt.Fprintf(w, "\n%d template tasks across %d dimensions\n", len(m.Rows), len(m.Dimensions))
}

func renderDimensions(w io.Writer, dims []model.DimensionSummary) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Dimension", "Total", "Not started", "In progress", "Completed", "On hold", "Rejected", "Done"})
	for _, d := range dims {
		s := d.Stats
		tw.AppendRow(table.Row{d.Name, s.Total, s.NotStarted, s.InProgress, s.Completed, s.OnHold, s.Rejected, ui.RenderRate(d.CompletionRate)})
	}
	tw.Render()
}

// renderTree prints task trees with box-drawing guides.
func renderTree(w io.Writer, trees []*model.TaskTree) {
	var walk func(t *model.TaskTree, prefix string, last, root bool)
	walk = func(t *model.TaskTree, prefix string, last, root bool) {
		branch, next := "├── ", prefix+"│   "
		if last {
			branch, next = "└── ", prefix+"    "
		}
		if root {
			branch, next = "", ""
		}
		status := ""
		if t.Status != "" {
			status = " " + ui.RenderCategory(model.CategoryFor(t.Status))
		}
		fmt.Fprintf(w, "%s%s#%d %s%s\n", prefix, branch, t.ID, t.Subject, status)
		for i, c := range t.Children {
			walk(c, next, i == len(t.Children)-1, false)
		}
	}
	for _, t := range trees {
		walk(t, "", true, true)
	}
}

func renderTaskStatuses(w io.Writer, ts *model.TaskStatuses) {
	fmt.Fprintf(w, "#%d %s", ts.TaskID, ts.Subject)
	if ts.Status != "" {
		fmt.Fprintf(w, " (%s)", ts.Status)
	}
	fmt.Fprintln(w)

	dims := make([]string, 0, len(ts.Statuses))
	for d := range ts.Statuses {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Dimension", "Status"})
	for _, d := range dims {
		tw.AppendRow(table.Row{d, ui.RenderCategory(ts.Statuses[d])})
	}
	tw.Render()
}

func renderRuns(w io.Writer, runs []*model.ReportRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Run", "Project", "Generated", "Tasks", "Unresolved", "Done"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.RunID, r.ProjectID, r.GeneratedAt.Local().Format(time.DateTime), r.TaskCount, r.Unresolved, ui.RenderRate(overallRate(r.Stats))})
	}
	tw.Render()
}

// overallRate is the completion rate over all dimensions combined.
func overallRate(stats map[string]model.DimensionStats) float64 {
	var sum model.DimensionStats
	for _, s := range stats {
		sum.Completed += s.Completed
		sum.Total += s.Total
	}
	return sum.CompletionRate()
}
