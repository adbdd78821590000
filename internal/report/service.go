package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/opreport/internal/events"
	"github.com/alfredjeanlab/opreport/internal/idgen"
	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/store"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	// ProjectID is used when a caller passes an empty project id.
	ProjectID string
	// Publisher receives progress, generated and failed events. Defaults to
	// a NoopPublisher.
	Publisher events.Publisher
	// Store, when set, records a ReportRun for every computed report.
	Store  store.Store
	Logger *slog.Logger
}

// Service is the public entry point: it serves cached reports, computes new
// ones on demand and announces what it does on the event bus.
type Service struct {
	engine    *Engine
	cache     *Cache
	projectID string
	publisher events.Publisher
	store     store.Store
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*run // project id -> run reserved or in flight
}

// run is a run id handed out for a project. A run reserved by Refresh is
// adopted by the next computation of the project that starts.
type run struct {
	id      string
	started bool
}

// NewService creates a Service.
func NewService(engine *Engine, cache *Cache, cfg ServiceConfig) *Service {
	s := &Service{
		engine:    engine,
		cache:     cache,
		projectID: cfg.ProjectID,
		publisher: cfg.Publisher,
		store:     cfg.Store,
		logger:    cfg.Logger,
		running:   make(map[string]*run),
	}
	if s.publisher == nil {
		s.publisher = &events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// ProjectID returns the default project.
func (s *Service) ProjectID() string { return s.projectID }

func (s *Service) project(id string) string {
	if id == "" {
		return s.projectID
	}
	return id
}

// GetAggregateReport returns the report for projectID, computing it when the
// cache is stale or forceRefresh is set. When a computation fails and an
// earlier report of the same project exists, the earlier report is returned.
func (s *Service) GetAggregateReport(ctx context.Context, projectID string, forceRefresh bool) (*model.AggregateReport, error) {
	projectID = s.project(projectID)
	if projectID == "" {
		return nil, errors.New("report: project id is required")
	}
	r, err := s.cache.GetOrCompute(ctx, projectID, forceRefresh, s.compute(projectID))
	if err == nil {
		return r, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if prev := s.cache.Latest(); prev != nil && prev.ProjectID == projectID {
		s.logger.Warn("serving stale report after failed refresh",
			"project", projectID, "run_id", prev.RunID, "generated_at", prev.GeneratedAt, "err", err)
		return prev, nil
	}
	return nil, err
}

// Refresh starts a forced recomputation in the background and returns its
// run id. If a computation for the project is already running its id is
// returned instead.
func (s *Service) Refresh(ctx context.Context, projectID string) (string, error) {
	projectID = s.project(projectID)
	if projectID == "" {
		return "", errors.New("report: project id is required")
	}
	rn, fresh, err := s.reserve(projectID)
	if err != nil {
		return "", err
	}
	if !fresh {
		return rn.id, nil
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		// A computation that was already past its start when rn was
		// reserved does not adopt it; force another one until some
		// computation carries rn.id.
		for {
			if _, err := s.cache.GetOrCompute(bg, projectID, true, s.compute(projectID)); err != nil {
				s.logger.Debug("background refresh ended with error", "project", projectID, "run_id", rn.id, "err", err)
			}
			s.mu.Lock()
			done := rn.started || s.running[projectID] != rn
			s.mu.Unlock()
			if done {
				return
			}
		}
	}()
	return rn.id, nil
}

// reserve returns the run registered for projectID, or registers a new
// unstarted one. fresh reports whether the run was created by this call.
func (s *Service) reserve(projectID string) (rn *run, fresh bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rn, ok := s.running[projectID]; ok {
		return rn, false, nil
	}
	id, err := idgen.NewRunID()
	if err != nil {
		return nil, false, err
	}
	rn = &run{id: id}
	s.running[projectID] = rn
	return rn, true, nil
}

// Running returns the run id of the computation in flight for projectID.
func (s *Service) Running(projectID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.running[s.project(projectID)]
	if !ok {
		return "", false
	}
	return rn.id, true
}

// Latest returns the last computed report without triggering a computation.
func (s *Service) Latest() *model.AggregateReport { return s.cache.Latest() }

// History lists recorded runs of projectID, newest first.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]*model.ReportRun, error) {
	if s.store == nil {
		return nil, store.ErrNotConfigured
	}
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	return s.store.ListRuns(ctx, s.project(projectID), limit)
}

// compute returns the ComputeFunc for one computation of projectID. The run
// id is decided when the computation starts: a run reserved by Refresh is
// adopted, otherwise a new id is generated.
func (s *Service) compute(projectID string) ComputeFunc {
	return func(ctx context.Context) (*model.AggregateReport, error) {
		rn, err := s.start(projectID)
		if err != nil {
			return nil, err
		}
		runID := rn.id
		defer func() {
			s.mu.Lock()
			if s.running[projectID] == rn {
				delete(s.running, projectID)
			}
			s.mu.Unlock()
		}()

		d := NewDispatcher(func(p Progress) {
			s.publish(ctx, events.TopicReportProgress, events.ReportProgress(p))
		})
		s.logger.Info("computing report", "project", projectID, "run_id", runID)
		r, err := s.engine.Compute(ctx, projectID, runID, d.Emit)
		d.Close()
		if n := d.Dropped(); n > 0 {
			s.logger.Debug("dropped progress events", "run_id", runID, "count", n)
		}
		if err != nil {
			prev := s.cache.Latest()
			s.publish(ctx, events.TopicReportFailed, events.ReportFailed{
				RunID:     runID,
				ProjectID: projectID,
				Error:     err.Error(),
				Stale:     prev != nil && prev.ProjectID == projectID,
			})
			s.logger.Error("report computation failed", "project", projectID, "run_id", runID, "err", err)
			return nil, err
		}

		run := model.RunOf(r)
		if s.store != nil {
			if err := s.store.SaveRun(ctx, run); err != nil {
				s.logger.Warn("failed to record report run", "run_id", runID, "err", err)
			}
		}
		s.publish(ctx, events.TopicReportGenerated, events.ReportGenerated{Run: run})
		s.logger.Info("report computed",
			"project", projectID,
			"run_id", runID,
			"tasks", r.TaskCount,
			"dimensions", len(r.Dimensions),
			"unresolved", len(r.Fetch.Unresolved))
		return r, nil
	}
}

// start marks the run of a starting computation. Only one computation of a
// project runs at a time, so a registered run that has not started is a
// reservation waiting for this computation.
func (s *Service) start(projectID string) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rn, ok := s.running[projectID]; ok && !rn.started {
		rn.started = true
		return rn, nil
	}
	id, err := idgen.NewRunID()
	if err != nil {
		return nil, err
	}
	rn := &run{id: id, started: true}
	s.running[projectID] = rn
	return rn, nil
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}
