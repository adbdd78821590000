// Package hierarchy reconstructs parent/child structure from a flat task set.
package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/reconcile"
)

// ErrCycle reports a task reached again while materializing its own subtree.
var ErrCycle = errors.New("hierarchy cycle")

// Hierarchy is the parent/child structure of one task set.
type Hierarchy struct {
	// Children maps a parent id to its child ids in discovery order. Edges to
	// parents absent from the set are kept.
	Children map[int][]int
	// Roots are the tasks without a parent in the set, in set order.
	Roots []*model.Task
	// Malformed lists ids of tasks whose parent href could not be parsed.
	Malformed []int
	// Cycles collects ErrCycle errors found by Tree.
	Cycles []error

	set    *reconcile.TaskSet
	logger *slog.Logger
}

// Build scans every task's parent reference. Malformed references are
// skipped with a warning; a task whose parent is malformed or not in the set
// is a root. When filter is non-nil only roots it accepts are returned.
//
// Roots are decided against the set, not structurally: a task listed under
// an absent parent still appears in Children, yet it is a root. Under a
// "never anyone's child" rule such tasks would be in no report at all.
func Build(set *reconcile.TaskSet, filter func(*model.Task) bool, logger *slog.Logger) *Hierarchy {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hierarchy{
		Children: make(map[int][]int),
		set:      set,
		logger:   logger,
	}

	hasParent := make(map[int]bool)
	for _, t := range set.Tasks() {
		pid, ok, err := t.ParentID()
		if err != nil {
			logger.Warn("skipping malformed parent reference", "task", t.ID, "href", t.Parent.Href, "err", err)
			h.Malformed = append(h.Malformed, t.ID)
			continue
		}
		if !ok {
			continue
		}
		if pid == t.ID {
			logger.Warn("skipping self-parent reference", "task", t.ID)
			continue
		}
		h.Children[pid] = append(h.Children[pid], t.ID)
		if set.Has(pid) {
			hasParent[t.ID] = true
		}
	}

	for _, t := range set.Tasks() {
		if hasParent[t.ID] {
			continue
		}
		if filter != nil && !filter(t) {
			continue
		}
		h.Roots = append(h.Roots, t)
	}
	return h
}

// IsChild reports whether the task has a parent in the set.
func (h *Hierarchy) IsChild(id int) bool {
	t, ok := h.set.Get(id)
	if !ok {
		return false
	}
	pid, ok, err := t.ParentID()
	return err == nil && ok && pid != id && h.set.Has(pid)
}

// Tree materializes the subtree rooted at task. Child ids that do not
// resolve in the set are skipped. A task already on the current path is not
// descended into again; the cycle is recorded in h.Cycles.
func (h *Hierarchy) Tree(task *model.Task) *model.TaskTree {
	return h.tree(task, make(map[int]bool))
}

func (h *Hierarchy) tree(task *model.Task, visiting map[int]bool) *model.TaskTree {
	node := &model.TaskTree{
		ID:       task.ID,
		Subject:  task.Subject,
		Status:   task.StatusLabel(),
		Children: []*model.TaskTree{},
	}
	visiting[task.ID] = true
	defer delete(visiting, task.ID)

	for _, cid := range h.Children[task.ID] {
		if visiting[cid] {
			err := fmt.Errorf("task %d reached again below task %d: %w", cid, task.ID, ErrCycle)
			h.logger.Warn("skipping cyclic child", "parent", task.ID, "child", cid)
			h.Cycles = append(h.Cycles, err)
			continue
		}
		child, ok := h.set.Get(cid)
		if !ok {
			continue
		}
		node.Children = append(node.Children, h.tree(child, visiting))
	}
	return node
}

// Trees materializes the subtree of every root.
func (h *Hierarchy) Trees() []*model.TaskTree {
	trees := make([]*model.TaskTree, 0, len(h.Roots))
	for _, r := range h.Roots {
		trees = append(trees, h.Tree(r))
	}
	return trees
}
