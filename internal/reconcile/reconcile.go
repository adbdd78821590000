// Package reconcile fetches a project's complete task set from a
// TaskRepository, backfilling records that the bulk listing omitted or
// returned without a well formed status.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/opreport/internal/client"
	"github.com/alfredjeanlab/opreport/internal/model"
)

const (
	// ProbePageSize is the page size of the exploratory listing.
	ProbePageSize = 50
	// PageMargin is added to the reported total when sizing the full listing.
	PageMargin = 50
	// DefaultPageSize is used when the reported total is zero or unknown.
	DefaultPageSize = 500
	// DefaultConcurrency caps parallel single-task lookups.
	DefaultConcurrency = 10

	logSampleSize = 20
)

// ErrNoTasks is returned when the bulk listing yields no tasks.
var ErrNoTasks = errors.New("listing returned no tasks")

// Options tunes a Fetcher.
type Options struct {
	Concurrency int
	Logger      *slog.Logger
	// Progress, when set, receives (stage, percent) notifications.
	Progress func(stage string, percent int)
}

// Fetcher retrieves the full, reconciled task set of a project.
type Fetcher struct {
	repo        client.TaskRepository
	concurrency int
	logger      *slog.Logger
	progress    func(stage string, percent int)
}

// NewFetcher creates a Fetcher reading from repo.
func NewFetcher(repo client.TaskRepository, opts Options) *Fetcher {
	f := &Fetcher{
		repo:        repo,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		progress:    opts.Progress,
	}
	if f.concurrency < 1 {
		f.concurrency = DefaultConcurrency
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// PageSizeFor returns the single-page size that covers total tasks.
func PageSizeFor(total int) int {
	if total <= 0 {
		return DefaultPageSize
	}
	return total + PageMargin
}

// FetchAll lists every task of the project and backfills gaps. Per-task
// lookup failures are tolerated and reported in the returned stats; only a
// failed or empty bulk listing is an error.
func (f *Fetcher) FetchAll(ctx context.Context, projectID string) (*TaskSet, model.FetchStats, error) {
	var stats model.FetchStats

	_, total, err := f.repo.ListTasks(ctx, projectID, 1, ProbePageSize)
	if err != nil {
		return nil, stats, fmt.Errorf("listing tasks for project %s: %w", projectID, err)
	}
	stats.Total = total
	pageSize := PageSizeFor(total)
	f.logger.Debug("sizing task listing", "project", projectID, "total", total, "page_size", pageSize)

	listed, _, err := f.repo.ListTasks(ctx, projectID, 1, pageSize)
	if err != nil {
		return nil, stats, fmt.Errorf("listing tasks for project %s: %w", projectID, err)
	}
	if len(listed) == 0 {
		return nil, stats, fmt.Errorf("listing tasks for project %s: %w", projectID, ErrNoTasks)
	}
	stats.Listed = len(listed)
	f.notify("tasks", 10)

	set := NewTaskSet(listed)
	stats.MissingReferenced = f.missingReferenced(set)
	stats.MissingStatus = set.Incomplete()

	if n := len(stats.MissingReferenced) + len(stats.MissingStatus); n > 0 {
		f.logger.Info("backfilling tasks",
			"project", projectID,
			"missing_referenced", len(stats.MissingReferenced),
			"missing_status", len(stats.MissingStatus),
			"concurrency", f.concurrency)
		f.notify("backfill", 12)

		ids := make([]int, 0, n)
		ids = append(ids, stats.MissingReferenced...)
		ids = append(ids, stats.MissingStatus...)
		results := f.backfill(ctx, ids)
		referenced, incomplete := results[:len(stats.MissingReferenced)], results[len(stats.MissingReferenced):]

		for _, r := range referenced {
			if r.task == nil {
				stats.Failed = append(stats.Failed, r.id)
				continue
			}
			set.Put(r.task)
			stats.Backfilled++
		}
		for _, r := range incomplete {
			if r.task == nil {
				stats.Failed = append(stats.Failed, r.id)
				continue
			}
			if !set.Put(r.task) {
				f.logger.Debug("backfilled task not in listing, appending", "id", r.id)
			}
			stats.Backfilled++
		}
		f.notify("backfill", 15)

		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("backfilling tasks for project %s: %w", projectID, err)
		}
	}

	stats.Unresolved = set.Incomplete()
	if len(stats.Failed) > 0 {
		f.logger.Warn("task lookups failed", "project", projectID, "count", len(stats.Failed), "ids", sample(stats.Failed))
	}
	if len(stats.Unresolved) > 0 {
		f.logger.Warn("tasks still missing status", "project", projectID, "count", len(stats.Unresolved), "ids", sample(stats.Unresolved))
	}
	f.logger.Info("fetched tasks",
		"project", projectID,
		"total", stats.Total,
		"listed", stats.Listed,
		"backfilled", stats.Backfilled,
		"tasks", set.Len())
	return set, stats, nil
}

// missingReferenced returns ids referenced as a child or parent by some task
// but absent from the set, in discovery order. Malformed hrefs are skipped.
func (f *Fetcher) missingReferenced(set *TaskSet) []int {
	seen := make(map[int]bool)
	var missing []int
	add := func(href string, from int) {
		if href == "" {
			return
		}
		id, err := model.IDFromHref(href)
		if err != nil {
			f.logger.Debug("skipping malformed reference", "task", from, "href", href)
			return
		}
		if seen[id] || set.Has(id) {
			return
		}
		seen[id] = true
		missing = append(missing, id)
	}
	for _, t := range set.Tasks() {
		for _, c := range t.Children {
			add(c.Href, t.ID)
		}
		if t.Parent != nil {
			add(t.Parent.Href, t.ID)
		}
	}
	return missing
}

type lookup struct {
	id   int
	task *model.Task
}

// backfill fetches ids with at most f.concurrency lookups in flight and
// waits for all of them. Results keep the order of ids; failed lookups have
// a nil task.
func (f *Fetcher) backfill(ctx context.Context, ids []int) []lookup {
	results := make([]lookup, len(ids))
	if len(ids) == 0 {
		return results
	}
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, id := range ids {
		results[i].id = id
		g.Go(func() error {
			t, err := f.repo.GetTask(ctx, id)
			if err != nil {
				f.logger.Warn("task lookup failed", "id", id, "err", err)
				return nil
			}
			if t == nil {
				return nil
			}
			if t.ID == 0 {
				t.ID = id
			}
			results[i].task = t
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fetcher) notify(stage string, percent int) {
	if f.progress != nil {
		f.progress(stage, percent)
	}
}

func sample(ids []int) []int {
	if len(ids) > logSampleSize {
		return ids[:logSampleSize]
	}
	return ids
}
