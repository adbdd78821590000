package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/alfredjeanlab/opreport/internal/client"
	"github.com/alfredjeanlab/opreport/internal/events"
	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/report"
	"github.com/alfredjeanlab/opreport/internal/rollup"
	"github.com/alfredjeanlab/opreport/internal/store"
)

// backend is where report commands get their data: a running opr server or
// an in-process engine talking to OpenProject directly.
type backend interface {
	Report(ctx context.Context, refresh bool) (*model.AggregateReport, error)
	Dimensions(ctx context.Context) ([]model.DimensionSummary, error)
	TaskStatuses(ctx context.Context, id int) (*model.TaskStatuses, error)
	Matrix(ctx context.Context) (*model.StatusMatrix, error)
	History(ctx context.Context, limit int) ([]*model.ReportRun, error)
	Close() error
}

// serverBackend reads from an opr server's HTTP API.
type serverBackend struct {
	c *client.ServerClient
}

func (b *serverBackend) Report(ctx context.Context, refresh bool) (*model.AggregateReport, error) {
	return b.c.GetReport(ctx, refresh)
}

func (b *serverBackend) Dimensions(ctx context.Context) ([]model.DimensionSummary, error) {
	dims, err := b.c.ListDimensions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DimensionSummary, 0, len(dims))
	for _, d := range dims {
		out = append(out, *d)
	}
	return out, nil
}

func (b *serverBackend) TaskStatuses(ctx context.Context, id int) (*model.TaskStatuses, error) {
	return b.c.GetTaskStatuses(ctx, id)
}

func (b *serverBackend) Matrix(ctx context.Context) (*model.StatusMatrix, error) {
	return b.c.GetMatrix(ctx)
}

func (b *serverBackend) History(ctx context.Context, limit int) ([]*model.ReportRun, error) {
	return b.c.ListRuns(ctx, limit)
}

func (b *serverBackend) Close() error { return nil }

// localBackend computes the report in process. The report is computed at
// most once per invocation unless a refresh is requested.
type localBackend struct {
	svc  *report.Service
	repo client.TaskRepository
}

func newLocalBackend(r Remote, mode rollup.Mode, concurrency int, progress io.Writer, logger *slog.Logger) (*localBackend, error) {
	if r.URL == "" {
		return nil, fmt.Errorf("no OpenProject URL: pass --api-url, set OPREPORT_API_URL or add a remote")
	}
	if r.Project == "" {
		return nil, fmt.Errorf("no project: pass --project, set OPREPORT_PROJECT or add a remote with --project")
	}
	var opts []client.Option
	if r.DimensionField != "" {
		opts = append(opts, client.WithDimensionField(r.DimensionField))
	}
	repo := client.NewRetryingRepository(client.NewHTTPClient(r.URL, r.Token, opts...), client.DefaultRetryPolicy(), logger)
	engine := report.NewEngine(repo, report.Config{
		Concurrency: concurrency,
		Rollup:      mode,
		Logger:      logger,
	})
	var pub events.Publisher
	if progress != nil {
		pub = &progressPrinter{w: progress}
	}
	svc := report.NewService(engine, report.NewCache(report.DefaultTTL), report.ServiceConfig{
		ProjectID: r.Project,
		Publisher: pub,
		Logger:    logger,
	})
	return &localBackend{svc: svc, repo: repo}, nil
}

func (b *localBackend) Report(ctx context.Context, refresh bool) (*model.AggregateReport, error) {
	return b.svc.GetAggregateReport(ctx, "", refresh)
}

func (b *localBackend) Dimensions(ctx context.Context) ([]model.DimensionSummary, error) {
	r, err := b.Report(ctx, false)
	if err != nil {
		return nil, err
	}
	return report.Summaries(r), nil
}

func (b *localBackend) TaskStatuses(ctx context.Context, id int) (*model.TaskStatuses, error) {
	r, err := b.Report(ctx, false)
	if err != nil {
		return nil, err
	}
	ts, ok := report.TaskStatusesOf(r, id)
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, client.ErrNotFound)
	}
	return &ts, nil
}

func (b *localBackend) Matrix(ctx context.Context) (*model.StatusMatrix, error) {
	r, err := b.Report(ctx, false)
	if err != nil {
		return nil, err
	}
	m := report.Matrix(r)
	return &m, nil
}

func (b *localBackend) History(context.Context, int) ([]*model.ReportRun, error) {
	return nil, fmt.Errorf("history needs an opr server (--server): %w", store.ErrNotConfigured)
}

func (b *localBackend) Close() error { return b.repo.Close() }

// progressPrinter renders progress events as single status lines.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progressPrinter) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e := event.(type) {
	case events.ReportProgress:
		fmt.Fprintf(p.w, "[%3d%%] %s\n", e.Percent, e.Stage)
	case events.ReportFailed:
		fmt.Fprintf(p.w, "failed: %s\n", e.Error)
	}
	return nil
}

func (p *progressPrinter) Close() error { return nil }

var activeBackend backend

// openBackend picks the server when one is configured, else computes locally.
func openBackend() (backend, error) {
	r := resolveRemote()
	if r.Server != "" {
		return &serverBackend{c: client.NewServerClient(r.Server, r.ServerToken)}, nil
	}
	mode, err := rollup.ParseMode(rollupFlag)
	if err != nil {
		return nil, err
	}
	var progress io.Writer
	if showProgress {
		progress = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	return newLocalBackend(r, mode, concurrency, progress, logger)
}
