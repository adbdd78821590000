package report

import (
	"github.com/alfredjeanlab/opreport/internal/model"
)

// Summaries lists the report's dimensions in option order with their
// statistics.
func Summaries(r *model.AggregateReport) []model.DimensionSummary {
	out := make([]model.DimensionSummary, 0, len(r.Dimensions))
	for _, d := range r.Dimensions {
		s := r.Statistics[d.Name]
		out = append(out, model.DimensionSummary{
			DimensionOption: d,
			Stats:           s,
			CompletionRate:  s.CompletionRate(),
		})
	}
	return out
}

// DimensionTasks returns the tasks classified under the named dimension.
func DimensionTasks(r *model.AggregateReport, name string) ([]*model.Task, bool) {
	tasks, ok := r.TasksByDimension[name]
	return tasks, ok
}

// TaskStatusesOf returns the per-dimension statuses of one task. ok is false
// when the task is unknown to the report.
func TaskStatusesOf(r *model.AggregateReport, id int) (model.TaskStatuses, bool) {
	ts := model.TaskStatuses{TaskID: id, Statuses: make(map[string]model.Category)}
	found := false
	for _, d := range r.Dimensions {
		for _, t := range r.TasksByDimension[d.Name] {
			if t.ID == id {
				ts.Subject, ts.Status = t.Subject, t.StatusLabel()
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		if tree := findTree(r.TemplateTasks, id); tree != nil {
			ts.Subject, ts.Status = tree.Subject, tree.Status
			found = true
		}
	}
	for dim, c := range r.StatusByTask[id] {
		ts.Statuses[dim] = c
		found = true
	}
	return ts, found
}

func findTree(trees []*model.TaskTree, id int) *model.TaskTree {
	for _, t := range trees {
		if t.ID == id {
			return t
		}
		if hit := findTree(t.Children, id); hit != nil {
			return hit
		}
	}
	return nil
}

// Matrix flattens the template trees depth first into rows with one status
// per dimension. For every dimension the row shows the category of that
// dimension's task with the same subject as the template task; when the
// dimension has no such task it falls back to the template task's own
// rollup in that dimension.
func Matrix(r *model.AggregateReport) model.StatusMatrix {
	dims := make([]string, len(r.Dimensions))
	bySubject := make([]map[string]*model.Task, len(r.Dimensions))
	for i, d := range r.Dimensions {
		dims[i] = d.Name
		idx := make(map[string]*model.Task)
		for _, t := range r.TasksByDimension[d.Name] {
			if _, dup := idx[t.Subject]; !dup {
				idx[t.Subject] = t
			}
		}
		bySubject[i] = idx
	}

	m := model.StatusMatrix{Dimensions: dims, Rows: []model.MatrixRow{}}
	var walk func(t *model.TaskTree, depth int)
	walk = func(t *model.TaskTree, depth int) {
		row := model.MatrixRow{
			TaskID:       t.ID,
			Subject:      t.Subject,
			Depth:        depth,
			Statuses:     make([]model.Category, len(dims)),
			Counterparts: make([]int, len(dims)),
		}
		for i, dim := range dims {
			if c, ok := bySubject[i][t.Subject]; ok {
				row.Statuses[i] = model.CategoryFor(c.StatusLabel())
				row.Counterparts[i] = c.ID
				continue
			}
			row.Statuses[i] = r.StatusFor(t.ID, dim)
		}
		m.Rows = append(m.Rows, row)
		for _, c := range t.Children {
			walk(c, depth+1)
		}
	}
	for _, t := range r.TemplateTasks {
		walk(t, 0)
	}
	return m
}
