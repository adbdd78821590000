package model

import "time"

// TaskTree is a read-only view of a task and its discovered descendants.
// Child order follows the bulk listing and is not stable across fetches.
type TaskTree struct {
	ID       int         `json:"id"`
	Subject  string      `json:"subject"`
	Status   string      `json:"status,omitempty"`
	Children []*TaskTree `json:"children"`
}

// DimensionStats counts a dimension's tasks by leaf category.
type DimensionStats struct {
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	OnHold     int `json:"on_hold"`
	Rejected   int `json:"rejected"`
	Total      int `json:"total"`
}

// Add counts one task of the given category.
func (s *DimensionStats) Add(c Category) {
	switch c {
	case CategoryInProgress:
		s.InProgress++
	case CategoryCompleted:
		s.Completed++
	case CategoryOnHold:
		s.OnHold++
	case CategoryRejected:
		s.Rejected++
	default:
		s.NotStarted++
	}
	s.Total++
}

// Count returns the number of tasks in category c.
func (s DimensionStats) Count(c Category) int {
	switch c {
	case CategoryInProgress:
		return s.InProgress
	case CategoryCompleted:
		return s.Completed
	case CategoryOnHold:
		return s.OnHold
	case CategoryRejected:
		return s.Rejected
	default:
		return s.NotStarted
	}
}

// CompletionRate returns the percentage of completed tasks, 0 when empty.
func (s DimensionStats) CompletionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// FetchStats summarizes one reconciling fetch.
type FetchStats struct {
	Total             int   `json:"total"`
	Listed            int   `json:"listed"`
	MissingReferenced []int `json:"missing_referenced,omitempty"`
	MissingStatus     []int `json:"missing_status,omitempty"`
	Backfilled        int   `json:"backfilled"`
	Failed            []int `json:"failed,omitempty"`
	Unresolved        []int `json:"unresolved,omitempty"`
}

// AggregateReport is the engine's output. It is immutable once produced;
// recomputation replaces it wholesale.
type AggregateReport struct {
	RunID             string                      `json:"run_id"`
	ProjectID         string                      `json:"project_id"`
	GeneratedAt       time.Time                   `json:"generated_at"`
	Dimensions        []DimensionOption           `json:"dimensions"`
	TemplateDimension string                      `json:"template_dimension,omitempty"`
	TemplateTasks     []*TaskTree                 `json:"template_tasks"`
	TasksByDimension  map[string][]*Task          `json:"tasks_by_dimension"`
	StatusByTask      map[int]map[string]Category `json:"status_by_task"`
	Statistics        map[string]DimensionStats   `json:"dimension_statistics"`
	ChildrenIndex     map[int][]int               `json:"children_index"`
	TaskCount         int                         `json:"task_count"`
	Fetch             FetchStats                  `json:"fetch"`
}

// StatusFor returns the rolled-up status of a task in a dimension. Tasks
// without a recorded status are reported as not-started.
func (r *AggregateReport) StatusFor(taskID int, dimension string) Category {
	if byDim, ok := r.StatusByTask[taskID]; ok {
		if c, ok := byDim[dimension]; ok {
			return c
		}
	}
	return CategoryNotStarted
}

// HasStatus reports whether the task has a recorded status in the dimension.
func (r *AggregateReport) HasStatus(taskID int, dimension string) bool {
	byDim, ok := r.StatusByTask[taskID]
	if !ok {
		return false
	}
	_, ok = byDim[dimension]
	return ok
}

// Age returns how long ago the report was generated relative to now.
func (r *AggregateReport) Age(now time.Time) time.Duration {
	return now.Sub(r.GeneratedAt)
}

// ReportRun is the persisted summary of one report computation.
type ReportRun struct {
	RunID       string                    `json:"run_id"`
	ProjectID   string                    `json:"project_id"`
	GeneratedAt time.Time                 `json:"generated_at"`
	TaskCount   int                       `json:"task_count"`
	Unresolved  int                       `json:"unresolved"`
	Stats       map[string]DimensionStats `json:"stats"`
}

// RunOf summarizes a report for the history store.
func RunOf(r *AggregateReport) *ReportRun {
	stats := make(map[string]DimensionStats, len(r.Statistics))
	for k, v := range r.Statistics {
		stats[k] = v
	}
	return &ReportRun{
		RunID:       r.RunID,
		ProjectID:   r.ProjectID,
		GeneratedAt: r.GeneratedAt,
		TaskCount:   r.TaskCount,
		Unresolved:  len(r.Fetch.Unresolved),
		Stats:       stats,
	}
}

// DimensionSummary is one dimension with its statistics, as listed by the API.
type DimensionSummary struct {
	DimensionOption
	Stats          DimensionStats `json:"stats"`
	CompletionRate float64        `json:"completion_rate"`
}

// TaskStatuses is the per-dimension rollup of a single task.
type TaskStatuses struct {
	TaskID   int                 `json:"task_id"`
	Subject  string              `json:"subject"`
	Status   string              `json:"status,omitempty"`
	Statuses map[string]Category `json:"statuses"`
}

// StatusMatrix is the template task tree flattened into rows, with one
// status column per dimension.
type StatusMatrix struct {
	Dimensions []string    `json:"dimensions"`
	Rows       []MatrixRow `json:"rows"`
}

// MatrixRow is one template task in a StatusMatrix. Statuses and
// Counterparts are aligned with StatusMatrix.Dimensions. A counterpart is the
// dimension's task with the same subject; 0 means none was found and the
// template task's own rollup for that dimension is shown.
type MatrixRow struct {
	TaskID       int        `json:"task_id"`
	Subject      string     `json:"subject"`
	Depth        int        `json:"depth"`
	Statuses     []Category `json:"statuses"`
	Counterparts []int      `json:"counterparts"`
}
