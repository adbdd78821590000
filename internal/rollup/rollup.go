// Package rollup computes per-dimension task statuses and statistics.
package rollup

import (
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/reconcile"
)

// Mode selects how far child statuses propagate upward.
type Mode string

const (
	// Direct derives a parent's status from its direct children's own
	// (leaf) statuses in a single pass.
	Direct Mode = "direct"
	// Recursive derives statuses bottom-up over the full tree depth, so a
	// parent sees its children's rolled-up statuses.
	Recursive Mode = "recursive"
)

// ParseMode parses a rollup mode name. The empty string is Direct.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Direct:
		return Direct, nil
	case Recursive:
		return Recursive, nil
	}
	return "", fmt.Errorf("unknown rollup mode %q (want %q or %q)", s, Direct, Recursive)
}

// Status maps task id to dimension name to category.
type Status map[int]map[string]model.Category

func (s Status) set(id int, dim string, c model.Category) {
	byDim, ok := s[id]
	if !ok {
		byDim = make(map[string]model.Category)
		s[id] = byDim
	}
	byDim[dim] = c
}

func (s Status) get(id int, dim string) (model.Category, bool) {
	c, ok := s[id][dim]
	return c, ok
}

// Combine applies the parent rule to the recorded statuses of a parent's
// children: no statuses is not-started, all completed is completed, any
// in-progress or completed is in-progress, anything else is not-started.
func Combine(children []model.Category) model.Category {
	if len(children) == 0 {
		return model.CategoryNotStarted
	}
	allCompleted := true
	started := false
	for _, c := range children {
		if c != model.CategoryCompleted {
			allCompleted = false
		}
		if c == model.CategoryCompleted || c == model.CategoryInProgress {
			started = true
		}
	}
	switch {
	case allCompleted:
		return model.CategoryCompleted
	case started:
		return model.CategoryInProgress
	default:
		return model.CategoryNotStarted
	}
}

// Engine rolls statuses up the task hierarchy.
type Engine struct {
	mode   Mode
	logger *slog.Logger
}

// New creates an Engine.
func New(mode Mode, logger *slog.Logger) *Engine {
	if mode == "" {
		mode = Direct
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{mode: mode, logger: logger}
}

// Mode returns the engine's rollup mode.
func (e *Engine) Mode() Mode { return e.mode }

// Rollup assigns every task in a dimension's bucket its leaf category for
// that dimension, then derives a status in every dimension for each task of
// the set that has children. Parents absent from the set are ignored.
func (e *Engine) Rollup(set *reconcile.TaskSet, children map[int][]int, dims []string, buckets map[string][]*model.Task) Status {
	leaves := make(Status)
	for _, dim := range dims {
		for _, t := range buckets[dim] {
			leaves.set(t.ID, dim, model.CategoryFor(t.StatusLabel()))
		}
	}

	out := make(Status, len(leaves))
	for id, byDim := range leaves {
		for dim, c := range byDim {
			out.set(id, dim, c)
		}
	}

	switch e.mode {
	case Recursive:
		e.recursive(set, children, dims, leaves, out)
	default:
		e.direct(set, children, dims, leaves, out)
	}
	return out
}

func (e *Engine) direct(set *reconcile.TaskSet, children map[int][]int, dims []string, leaves, out Status) {
	for _, t := range set.Tasks() {
		kids := children[t.ID]
		if len(kids) == 0 {
			continue
		}
		for _, dim := range dims {
			var statuses []model.Category
			for _, cid := range kids {
				if c, ok := leaves.get(cid, dim); ok {
					statuses = append(statuses, c)
				}
			}
			out.set(t.ID, dim, Combine(statuses))
		}
	}
}

func (e *Engine) recursive(set *reconcile.TaskSet, children map[int][]int, dims []string, leaves, out Status) {
	for _, dim := range dims {
		done := make(map[int]bool)
		visiting := make(map[int]bool)
		var visit func(id int) (model.Category, bool)
		visit = func(id int) (model.Category, bool) {
			if done[id] {
				return out.get(id, dim)
			}
			if visiting[id] {
				e.logger.Warn("cycle during rollup, ignoring edge", "task", id, "dimension", dim)
				return "", false
			}
			kids := children[id]
			if len(kids) == 0 || !set.Has(id) {
				done[id] = true
				return leaves.get(id, dim)
			}
			visiting[id] = true
			var statuses []model.Category
			for _, cid := range kids {
				if c, ok := visit(cid); ok {
					statuses = append(statuses, c)
				}
			}
			delete(visiting, id)
			c := Combine(statuses)
			out.set(id, dim, c)
			done[id] = true
			return c, true
		}
		for _, t := range set.Tasks() {
			visit(t.ID)
		}
	}
}

// Statistics counts each dimension's tasks by their own leaf category.
func Statistics(dims []string, buckets map[string][]*model.Task) map[string]model.DimensionStats {
	out := make(map[string]model.DimensionStats, len(dims))
	for _, dim := range dims {
		var s model.DimensionStats
		for _, t := range buckets[dim] {
			s.Add(model.CategoryFor(t.StatusLabel()))
		}
		out[dim] = s
	}
	return out
}
