// Package report runs the aggregation pipeline and serves its cached result.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/opreport/internal/classify"
	"github.com/alfredjeanlab/opreport/internal/client"
	"github.com/alfredjeanlab/opreport/internal/hierarchy"
	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/reconcile"
	"github.com/alfredjeanlab/opreport/internal/rollup"
)

// Config tunes an Engine.
type Config struct {
	// TemplateDimension names the dimension whose top-level tasks form the
	// report template. Defaults to classify.DefaultTemplate.
	TemplateDimension string
	// TemplateHint is the fallback substring for the template dimension.
	TemplateHint string
	Concurrency  int
	Rollup       rollup.Mode
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine computes aggregate reports from a TaskRepository.
type Engine struct {
	repo   client.TaskRepository
	cfg    Config
	rollup *rollup.Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine reading from repo.
func NewEngine(repo client.TaskRepository, cfg Config) *Engine {
	if cfg.TemplateDimension == "" {
		cfg.TemplateDimension = classify.DefaultTemplate
	}
	if cfg.TemplateHint == "" {
		cfg.TemplateHint = classify.DefaultTemplateHint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:   repo,
		cfg:    cfg,
		rollup: rollup.New(cfg.Rollup, logger),
		logger: logger,
		now:    now,
	}
}

// Compute runs the full pipeline for one project. progress may be nil.
//
// A failure to read dimension options is not fatal: the report is produced
// without dimensions. A failed or empty task listing is.
func (e *Engine) Compute(ctx context.Context, projectID, runID string, progress ProgressFunc) (*model.AggregateReport, error) {
	emit := func(stage string, percent int) {
		if progress != nil {
			progress(Progress{RunID: runID, ProjectID: projectID, Stage: stage, Percent: percent, At: e.now()})
		}
	}

	emit(StageDimensions, 5)
	raw, err := e.repo.ListDimensionOptions(ctx, projectID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("report: listing dimensions for project %s: %w", projectID, ctx.Err())
		}
		e.logger.Warn("dimension options unavailable, continuing without dimensions", "project", projectID, "err", err)
		raw = nil
	}
	opts := classify.NormalizeOptions(raw, e.logger)

	fetcher := reconcile.NewFetcher(e.repo, reconcile.Options{
		Concurrency: e.cfg.Concurrency,
		Logger:      e.logger,
		Progress:    emit,
	})
	set, fetch, err := fetcher.FetchAll(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	emit(StageClassify, 75)
	tasks := set.Tasks()
	dims := make([]string, len(opts))
	buckets := make(map[string][]*model.Task, len(opts))
	for i := range opts {
		dims[i] = opts[i].Name
		buckets[opts[i].Name] = classify.Members(tasks, &opts[i])
		emit(StageDimensionPrefix+opts[i].Name, 80+i*10/len(opts))
	}
	if multi := classify.MultiMatched(buckets); len(multi) > 0 {
		e.logger.Debug("tasks matched several dimensions", "count", len(multi))
	}

	var filter func(*model.Task) bool
	template, ok := classify.SelectTemplate(opts, e.cfg.TemplateDimension, e.cfg.TemplateHint)
	if ok {
		filter = func(t *model.Task) bool { return classify.Matches(t, &template) }
	}
	h := hierarchy.Build(set, filter, e.logger)

	emit(StageRollup, 90)
	status := e.rollup.Rollup(set, h.Children, dims, buckets)
	trees := h.Trees()
	if len(h.Cycles) > 0 {
		e.logger.Warn("cycles found in task hierarchy", "project", projectID, "count", len(h.Cycles))
	}

	r := &model.AggregateReport{
		RunID:            runID,
		ProjectID:        projectID,
		GeneratedAt:      e.now(),
		Dimensions:       opts,
		TemplateTasks:    trees,
		TasksByDimension: buckets,
		StatusByTask:     status,
		Statistics:       rollup.Statistics(dims, buckets),
		ChildrenIndex:    h.Children,
		TaskCount:        set.Len(),
		Fetch:            fetch,
	}
	if ok {
		r.TemplateDimension = template.Name
	}
	emit(StageDone, 100)
	return r, nil
}
