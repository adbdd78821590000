// Package sync periodically recomputes the aggregate report and publishes a
// JSONL snapshot of it to one or more destinations.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// Destination is the interface for a sync target (S3, git, etc.).
type Destination interface {
	// Write sends the JSONL snapshot of run to the destination.
	Write(ctx context.Context, run *model.ReportRun, data []byte) error
}

// Source produces reports. *report.Service satisfies it.
type Source interface {
	GetAggregateReport(ctx context.Context, projectID string, forceRefresh bool) (*model.AggregateReport, error)
}

// Scheduler runs periodic report snapshots to one or more destinations.
type Scheduler struct {
	source       Source
	projectID    string
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that force-refreshes the report for
// projectID (empty means the source's default project) and writes it to the
// given destinations at the specified interval.
func NewScheduler(src Source, projectID string, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       src,
		projectID:    projectID,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce recomputes the report and writes it to every destination. A
// failing destination does not stop the others. It returns the number of
// destinations written successfully.
func (s *Scheduler) SyncOnce(ctx context.Context) int {
	rep, err := s.source.GetAggregateReport(ctx, s.projectID, true)
	if err != nil {
		s.logger.Error("sync report failed", "project", s.projectID, "err", err)
		return 0
	}

	var buf bytes.Buffer
	if err := ExportJSONL(rep, &buf); err != nil {
		s.logger.Error("sync export failed", "run", rep.RunID, "err", err)
		return 0
	}
	data := buf.Bytes()
	run := model.RunOf(rep)

	ok := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, run, data); err != nil {
			s.logger.Error("sync destination write failed", "destination", i, "run", run.RunID, "err", err)
			continue
		}
		ok++
	}

	s.logger.Info("sync completed", "run", run.RunID, "destinations", ok, "bytes", len(data))
	return ok
}
