// Package classify assigns tasks to the dimension options their
// classification field points at.
package classify

import (
	"log/slog"
	"strings"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// Defaults for SelectTemplate.
const (
	DefaultTemplate     = "省厅"
	DefaultTemplateHint = "省"
)

// NormalizeOptions returns copies of opts with Name filled from Value, then
// Title. Options with no usable label are dropped, as are repeats of a name
// already seen.
func NormalizeOptions(opts []*model.DimensionOption, logger *slog.Logger) []model.DimensionOption {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]model.DimensionOption, 0, len(opts))
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if o == nil {
			continue
		}
		opt := *o
		if !opt.Normalize() {
			logger.Warn("dropping dimension option without a name", "id", opt.ID, "href", opt.Href)
			continue
		}
		if seen[opt.Name] {
			logger.Warn("dropping duplicate dimension option", "name", opt.Name, "id", opt.ID)
			continue
		}
		seen[opt.Name] = true
		out = append(out, opt)
	}
	return out
}

// Matches reports whether task belongs to opt. opt must be normalized.
//
// A link with an href is matched by href only. In a list, any element href
// wins before any element label. A link without an href is matched by its
// labels, then by id. A plain string is matched against the option name.
func Matches(task *model.Task, opt *model.DimensionOption) bool {
	fv := task.Dimension
	ref := opt.ReferenceHref()
	switch fv.Kind {
	case model.FieldSingle:
		l, ok := fv.Single()
		if !ok {
			return false
		}
		if l.Href != "" {
			return ref != "" && l.Href == ref
		}
		if labelMatches(l, opt.Name) {
			return true
		}
		return l.ID != "" && l.ID == opt.ID
	case model.FieldList:
		if ref != "" {
			for _, l := range fv.Links {
				if l.Href == ref {
					return true
				}
			}
		}
		for _, l := range fv.Links {
			if labelMatches(l, opt.Name) {
				return true
			}
		}
		return false
	case model.FieldText:
		return fv.Text == opt.Name || (ref != "" && fv.Text == ref)
	default:
		return false
	}
}

func labelMatches(l model.Link, name string) bool {
	if name == "" {
		return false
	}
	for _, s := range l.DisplayLabels() {
		if s == name {
			return true
		}
	}
	return false
}

// Bucket maps each option name to the tasks that match it, in task order.
// Every option has an entry. A task may appear under several options.
func Bucket(tasks []*model.Task, opts []model.DimensionOption) map[string][]*model.Task {
	out := make(map[string][]*model.Task, len(opts))
	for i := range opts {
		out[opts[i].Name] = Members(tasks, &opts[i])
	}
	return out
}

// Members returns the tasks that match opt, in task order. The result is
// never nil.
func Members(tasks []*model.Task, opt *model.DimensionOption) []*model.Task {
	matched := []*model.Task{}
	for _, t := range tasks {
		if Matches(t, opt) {
			matched = append(matched, t)
		}
	}
	return matched
}

// MultiMatched returns ids of tasks that appear under more than one option.
func MultiMatched(buckets map[string][]*model.Task) []int {
	count := make(map[int]int)
	var ids []int
	for _, tasks := range buckets {
		for _, t := range tasks {
			count[t.ID]++
			if count[t.ID] == 2 {
				ids = append(ids, t.ID)
			}
		}
	}
	return ids
}

// SelectTemplate picks the option whose tasks form the report's template:
// the option named exactly name, else the first whose name contains hint,
// else the first option. ok is false when opts is empty.
func SelectTemplate(opts []model.DimensionOption, name, hint string) (model.DimensionOption, bool) {
	if len(opts) == 0 {
		return model.DimensionOption{}, false
	}
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	if hint != "" {
		for _, o := range opts {
			if strings.Contains(o.Name, hint) {
				return o, true
			}
		}
	}
	return opts[0], true
}
