package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// fakeRepo serves a canned listing and single-task lookups from a map.
type fakeRepo struct {
	listing   []*model.Task
	total     int
	listErr   error
	byID      map[int]*model.Task
	getErrs   map[int]error
	getDelay  time.Duration
	pageSizes []int

	mu       sync.Mutex
	gets     []int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *fakeRepo) ListTasks(_ context.Context, _ string, _, pageSize int) ([]*model.Task, int, error) {
	r.mu.Lock()
	r.pageSizes = append(r.pageSizes, pageSize)
	r.mu.Unlock()
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	out := make([]*model.Task, 0, len(r.listing))
	for i, t := range r.listing {
		if i >= pageSize {
			break
		}
		out = append(out, t)
	}
	return out, r.total, nil
}

func (r *fakeRepo) GetTask(_ context.Context, id int) (*model.Task, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if r.getDelay > 0 {
		time.Sleep(r.getDelay)
	}
	r.mu.Lock()
	r.gets = append(r.gets, id)
	r.mu.Unlock()
	if err := r.getErrs[id]; err != nil {
		return nil, err
	}
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %d: not found", id)
	}
	return t, nil
}

func (r *fakeRepo) ListDimensionOptions(context.Context, string) ([]*model.DimensionOption, error) {
	return nil, nil
}

func (r *fakeRepo) Close() error { return nil }

func status(title string) *model.Link {
	return &model.Link{Href: "/api/v3/statuses/x", Title: title}
}

func wpLink(id int) model.Link {
	return model.Link{Href: fmt.Sprintf("/api/v3/work_packages/%d", id)}
}

func parentLink(id int) *model.Link {
	l := wpLink(id)
	return &l
}

func TestPageSizeFor(t *testing.T) {
	for _, tc := range []struct {
		total int
		want  int
	}{
		{0, 500},
		{-1, 500},
		{1, 51},
		{480, 530},
	} {
		if got := PageSizeFor(tc.total); got != tc.want {
			t.Errorf("PageSizeFor(%d) = %d, want %d", tc.total, got, tc.want)
		}
	}
}

func TestFetchAll_CompleteListing(t *testing.T) {
	repo := &fakeRepo{
		total: 2,
		listing: []*model.Task{
			{ID: 1, Subject: "a", Status: status("New"), Children: []model.Link{wpLink(2)}},
			{ID: 2, Subject: "b", Status: status("Closed"), Parent: parentLink(1)},
		},
	}
	f := NewFetcher(repo, Options{})

	set, stats, err := f.FetchAll(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}
	if len(repo.gets) != 0 {
		t.Errorf("gets = %v, want none", repo.gets)
	}
	if len(repo.pageSizes) != 2 || repo.pageSizes[0] != ProbePageSize || repo.pageSizes[1] != 52 {
		t.Errorf("pageSizes = %v, want [50 52]", repo.pageSizes)
	}
	if stats.Total != 2 || stats.Listed != 2 || stats.Backfilled != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFetchAll_ZeroTotalUsesDefaultPageSize(t *testing.T) {
	repo := &fakeRepo{
		total:   0,
		listing: []*model.Task{{ID: 1, Status: status("New")}},
	}
	f := NewFetcher(repo, Options{})

	if _, _, err := f.FetchAll(context.Background(), "demo"); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if repo.pageSizes[1] != DefaultPageSize {
		t.Errorf("page size = %d, want %d", repo.pageSizes[1], DefaultPageSize)
	}
}

func TestFetchAll_BackfillsIncompleteStatus(t *testing.T) {
	repo := &fakeRepo{
		total: 3,
		listing: []*model.Task{
			{ID: 1, Subject: "a", Status: status("New")},
			{ID: 2, Subject: "b", Status: &model.Link{Href: "/api/v3/statuses/7"}},
			{ID: 3, Subject: "c"},
		},
		byID: map[int]*model.Task{
			2: {ID: 2, Subject: "b", Status: status("In progress")},
			3: {ID: 3, Subject: "c", Status: status("Closed")},
		},
	}
	f := NewFetcher(repo, Options{})

	set, stats, err := f.FetchAll(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", set.Len())
	}
	for _, id := range []int{2, 3} {
		task, _ := set.Get(id)
		if !task.Complete() {
			t.Errorf("task %d still incomplete after backfill", id)
		}
	}
	// Replacement keeps listing order.
	if got := set.Tasks()[1].StatusLabel(); got != "In progress" {
		t.Errorf("Tasks()[1] status = %q, want In progress", got)
	}
	if len(stats.MissingStatus) != 2 || stats.Backfilled != 2 || len(stats.Unresolved) != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFetchAll_BackfillsMissingReferenced(t *testing.T) {
	repo := &fakeRepo{
		total: 2,
		listing: []*model.Task{
			{ID: 1, Status: status("New"), Children: []model.Link{wpLink(2), wpLink(5), {Href: "/api/v3/work_packages/oops"}}},
			{ID: 2, Status: status("Closed"), Parent: parentLink(1)},
			{ID: 3, Status: status("Closed"), Parent: parentLink(9)},
		},
		byID: map[int]*model.Task{
			5: {ID: 5, Status: status("On hold"), Parent: parentLink(1)},
			9: {ID: 9, Status: status("New")},
		},
	}
	f := NewFetcher(repo, Options{})

	set, stats, err := f.FetchAll(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if got, want := fmt.Sprint(stats.MissingReferenced), "[5 9]"; got != want {
		t.Errorf("MissingReferenced = %s, want %s", got, want)
	}
	if set.Len() != 5 {
		t.Errorf("Len() = %d, want 5", set.Len())
	}
	// Backfilled tasks are appended after the listing, in reference order.
	if set.Tasks()[3].ID != 5 || set.Tasks()[4].ID != 9 {
		t.Errorf("appended order = %d, %d, want 5, 9", set.Tasks()[3].ID, set.Tasks()[4].ID)
	}
}

func TestFetchAll_ToleratesLookupFailures(t *testing.T) {
	incomplete := &model.Task{ID: 2, Subject: "b"}
	repo := &fakeRepo{
		total: 2,
		listing: []*model.Task{
			{ID: 1, Status: status("New"), Children: []model.Link{wpLink(7)}},
			incomplete,
		},
		getErrs: map[int]error{
			2: errors.New("read timeout"),
			7: errors.New("HTTP 500"),
		},
	}
	f := NewFetcher(repo, Options{})

	set, stats, err := f.FetchAll(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FetchAll() error = %v, want degraded success", err)
	}
	if set.Has(7) {
		t.Error("failed referenced lookup should leave task absent")
	}
	if got, _ := set.Get(2); got != incomplete {
		t.Error("failed status lookup should keep the original record")
	}
	if len(stats.Failed) != 2 {
		t.Errorf("Failed = %v, want 2 ids", stats.Failed)
	}
	if fmt.Sprint(stats.Unresolved) != "[2]" {
		t.Errorf("Unresolved = %v, want [2]", stats.Unresolved)
	}
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	listing := make([]*model.Task, 0, 40)
	byID := make(map[int]*model.Task)
	for i := 1; i <= 40; i++ {
		listing = append(listing, &model.Task{ID: i})
		byID[i] = &model.Task{ID: i, Status: status("New")}
	}
	repo := &fakeRepo{total: 40, listing: listing, byID: byID, getDelay: 5 * time.Millisecond}
	f := NewFetcher(repo, Options{Concurrency: 4})

	set, stats, err := f.FetchAll(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if max := repo.maxSeen.Load(); max > 4 {
		t.Errorf("max concurrent lookups = %d, want <= 4", max)
	}
	if len(repo.gets) != 40 || stats.Backfilled != 40 {
		t.Errorf("gets = %d, backfilled = %d, want 40", len(repo.gets), stats.Backfilled)
	}
	if len(set.Incomplete()) != 0 {
		t.Errorf("Incomplete() = %v, want none", set.Incomplete())
	}
}

func TestFetchAll_ListingErrors(t *testing.T) {
	boom := errors.New("connection refused")
	for _, tc := range []struct {
		name string
		repo *fakeRepo
		want error
	}{
		{"ListError", &fakeRepo{listErr: boom}, boom},
		{"Empty", &fakeRepo{total: 0}, ErrNoTasks},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NewFetcher(tc.repo, Options{}).FetchAll(context.Background(), "demo")
			if !errors.Is(err, tc.want) {
				t.Fatalf("FetchAll() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFetchAll_Progress(t *testing.T) {
	repo := &fakeRepo{
		total:   1,
		listing: []*model.Task{{ID: 1}},
		byID:    map[int]*model.Task{1: {ID: 1, Status: status("New")}},
	}
	var got []string
	f := NewFetcher(repo, Options{Progress: func(stage string, pct int) {
		got = append(got, fmt.Sprintf("%s:%d", stage, pct))
	}})
	if _, _, err := f.FetchAll(context.Background(), "demo"); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if fmt.Sprint(got) != "[tasks:10 backfill:12 backfill:15]" {
		t.Errorf("progress = %v", got)
	}
}

func TestTaskSet_PutReplacesInPlace(t *testing.T) {
	s := NewTaskSet([]*model.Task{{ID: 1, Subject: "old"}, {ID: 2}, {ID: 1, Subject: "new"}})
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if s.Tasks()[0].Subject != "new" {
		t.Errorf("Tasks()[0].Subject = %q, want new", s.Tasks()[0].Subject)
	}
	if s.Put(nil) {
		t.Error("Put(nil) = true")
	}
	var empty *TaskSet
	if empty.Len() != 0 || empty.Has(1) {
		t.Error("nil TaskSet should be empty")
	}
}
