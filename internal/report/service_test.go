package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/opreport/internal/events"
	"github.com/alfredjeanlab/opreport/internal/idgen"
	"github.com/alfredjeanlab/opreport/internal/model"
	"github.com/alfredjeanlab/opreport/internal/rollup"
	"github.com/alfredjeanlab/opreport/internal/store"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(topic string) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.topics) - 1; i >= 0; i-- {
		if p.topics[i] == topic {
			return p.events[i]
		}
	}
	return nil
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu   sync.Mutex
	runs []*model.ReportRun
	err  error
}

var _ store.Store = (*memStore)(nil)

func (s *memStore) SaveRun(_ context.Context, run *model.ReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) ListRuns(_ context.Context, projectID string, limit int) ([]*model.ReportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ReportRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.runs[i].ProjectID == projectID {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func newTestService(repo *fakeRepo, st store.Store) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	cache, _ := newTestCache(time.Hour)
	svc := NewService(newTestEngine(repo, rollup.Direct), cache, ServiceConfig{
		ProjectID: "demo",
		Publisher: pub,
		Store:     st,
	})
	return svc, pub
}

func TestService_GetAggregateReport(t *testing.T) {
	st := &memStore{}
	svc, pub := newTestService(newProjectRepo(), st)

	r, err := svc.GetAggregateReport(context.Background(), "", false)
	if err != nil {
		t.Fatalf("GetAggregateReport: %v", err)
	}
	if r.ProjectID != "demo" || !idgen.IsRunID(r.RunID) {
		t.Errorf("report header = %q %q", r.ProjectID, r.RunID)
	}
	if pub.count(events.TopicReportGenerated) != 1 {
		t.Errorf("generated events = %d, want 1", pub.count(events.TopicReportGenerated))
	}
	last, ok := pub.last(events.TopicReportProgress).(events.ReportProgress)
	if !ok || last.Stage != StageDone || last.Percent != 100 || last.RunID != r.RunID {
		t.Errorf("last progress = %+v", last)
	}
	if len(st.runs) != 1 || st.runs[0].RunID != r.RunID {
		t.Errorf("stored runs = %+v", st.runs)
	}

	again, _ := svc.GetAggregateReport(context.Background(), "demo", false)
	if again != r {
		t.Error("second call did not hit the cache")
	}
	if _, ok := svc.Running("demo"); ok {
		t.Error("a run is still marked in flight")
	}
}

func TestService_StaleOnFailure(t *testing.T) {
	repo := newProjectRepo()
	svc, pub := newTestService(repo, nil)

	prev, err := svc.GetAggregateReport(context.Background(), "", false)
	if err != nil {
		t.Fatalf("GetAggregateReport: %v", err)
	}

	repo.listErr = errors.New("upstream 502")
	got, err := svc.GetAggregateReport(context.Background(), "", true)
	if err != nil {
		t.Fatalf("expected stale report, got error %v", err)
	}
	if got != prev {
		t.Error("expected the previous report")
	}
	failed, ok := pub.last(events.TopicReportFailed).(events.ReportFailed)
	if !ok || !failed.Stale || failed.ProjectID != "demo" {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestService_FailureWithoutPrevious(t *testing.T) {
	repo := newProjectRepo()
	repo.listErr = errors.New("upstream 502")
	svc, pub := newTestService(repo, nil)

	if _, err := svc.GetAggregateReport(context.Background(), "", false); err == nil {
		t.Fatal("expected error without a previous report")
	}
	failed, ok := pub.last(events.TopicReportFailed).(events.ReportFailed)
	if !ok || failed.Stale {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestService_StoreErrorIsNotFatal(t *testing.T) {
	svc, _ := newTestService(newProjectRepo(), &memStore{err: errors.New("db down")})
	if _, err := svc.GetAggregateReport(context.Background(), "", false); err != nil {
		t.Fatalf("GetAggregateReport: %v", err)
	}
}

func TestService_Refresh(t *testing.T) {
	repo := newProjectRepo()
	repo.delay = 50 * time.Millisecond
	svc, pub := newTestService(repo, nil)

	runID, err := svc.Refresh(context.Background(), "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	again, _ := svc.Refresh(context.Background(), "")
	if again != runID {
		t.Errorf("second Refresh = %q, want in-flight %q", again, runID)
	}

	deadline := time.After(2 * time.Second)
	for svc.Latest() == nil {
		select {
		case <-deadline:
			t.Fatal("background refresh never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := svc.Latest().RunID; got != runID {
		t.Errorf("Latest().RunID = %q, want %q", got, runID)
	}
	if pub.count(events.TopicReportGenerated) != 1 {
		t.Errorf("generated events = %d, want 1", pub.count(events.TopicReportGenerated))
	}
}

func (p *recordingPublisher) generatedRunIDs() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make(map[string]bool)
	for i, topic := range p.topics {
		if topic == events.TopicReportGenerated {
			ids[p.events[i].(events.ReportGenerated).Run.RunID] = true
		}
	}
	return ids
}

func TestService_ComputationAdoptsReservedRun(t *testing.T) {
	svc, pub := newTestService(newProjectRepo(), nil)

	// A run reserved by Refresh whose own computation has not started yet
	// is taken over by whichever computation of the project starts first.
	rn, fresh, err := svc.reserve("demo")
	if err != nil || !fresh {
		t.Fatalf("reserve() = %v, %v, %v", rn, fresh, err)
	}
	r, err := svc.GetAggregateReport(context.Background(), "", true)
	if err != nil {
		t.Fatalf("GetAggregateReport: %v", err)
	}
	if r.RunID != rn.id {
		t.Errorf("report RunID = %q, want reserved %q", r.RunID, rn.id)
	}
	if !pub.generatedRunIDs()[rn.id] {
		t.Errorf("no generated event for reserved run %q", rn.id)
	}
	if id, ok := svc.Running(""); ok {
		t.Errorf("Running() = %q after completion, want none", id)
	}
}

func TestService_RefreshRacingGet(t *testing.T) {
	repo := newProjectRepo()
	repo.delay = 5 * time.Millisecond
	svc, pub := newTestService(repo, nil)

	for range 20 {
		var wg sync.WaitGroup
		var runID string
		wg.Add(2)
		go func() {
			defer wg.Done()
			id, err := svc.Refresh(context.Background(), "")
			if err != nil {
				t.Errorf("Refresh: %v", err)
			}
			runID = id
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.GetAggregateReport(context.Background(), "", true); err != nil {
				t.Errorf("GetAggregateReport: %v", err)
			}
		}()
		wg.Wait()

		deadline := time.After(2 * time.Second)
		for !pub.generatedRunIDs()[runID] {
			select {
			case <-deadline:
				t.Fatalf("run %q returned by Refresh never completed", runID)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
}

func TestService_History(t *testing.T) {
	svc, _ := newTestService(newProjectRepo(), nil)
	if _, err := svc.History(context.Background(), "", 5); !errors.Is(err, store.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}

	st := &memStore{}
	svc, _ = newTestService(newProjectRepo(), st)
	for range 3 {
		if _, err := svc.GetAggregateReport(context.Background(), "", true); err != nil {
			t.Fatalf("GetAggregateReport: %v", err)
		}
	}
	runs, err := svc.History(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != st.runs[2].RunID {
		t.Errorf("History = %+v", runs)
	}
}

func TestService_RequiresProject(t *testing.T) {
	cache, _ := newTestCache(time.Hour)
	svc := NewService(newTestEngine(newProjectRepo(), rollup.Direct), cache, ServiceConfig{})
	if _, err := svc.GetAggregateReport(context.Background(), "", false); err == nil {
		t.Error("expected error without a project id")
	}
}
