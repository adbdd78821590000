package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: fixedNow}
	c := NewCache(ttl)
	c.now = clock.Now
	return c, clock
}

// counting returns a ComputeFunc that produces a new report per call.
func counting(projectID string, calls *atomic.Int32) ComputeFunc {
	return func(context.Context) (*model.AggregateReport, error) {
		n := calls.Add(1)
		return &model.AggregateReport{ProjectID: projectID, TaskCount: int(n)}, nil
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	if got := NewCache(0).TTL(); got != 5*time.Minute {
		t.Errorf("TTL() = %v, want 5m", got)
	}
}

func TestCache_FreshHitAndExpiry(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)
	var calls atomic.Int32
	ctx := context.Background()

	first, err := c.GetOrCompute(ctx, "demo", false, counting("demo", &calls))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	clock.Advance(4*time.Minute + 59*time.Second)
	second, _ := c.GetOrCompute(ctx, "demo", false, counting("demo", &calls))
	if second != first {
		t.Error("expected cached report before the TTL elapsed")
	}

	clock.Advance(time.Second)
	third, _ := c.GetOrCompute(ctx, "demo", false, counting("demo", &calls))
	if third == first {
		t.Error("expected recompute once the TTL elapsed")
	}
	if calls.Load() != 2 {
		t.Errorf("compute calls = %d, want 2", calls.Load())
	}
}

func TestCache_ForceRefresh(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	var calls atomic.Int32
	ctx := context.Background()

	first, _ := c.GetOrCompute(ctx, "demo", false, counting("demo", &calls))
	second, err := c.GetOrCompute(ctx, "demo", true, counting("demo", &calls))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if second == first || second.TaskCount != 2 {
		t.Errorf("force refresh returned %+v", second)
	}
	if c.Latest() != second {
		t.Error("Latest() is not the refreshed report")
	}
}

func TestCache_OtherProjectMisses(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	var calls atomic.Int32
	ctx := context.Background()

	_, _ = c.GetOrCompute(ctx, "a", false, counting("a", &calls))
	r, _ := c.GetOrCompute(ctx, "b", false, counting("b", &calls))
	if r.ProjectID != "b" || calls.Load() != 2 {
		t.Errorf("got project %q after %d calls", r.ProjectID, calls.Load())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("project a still cached after b replaced it")
	}
}

func TestCache_FailureKeepsPrevious(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	var calls atomic.Int32
	ctx := context.Background()

	prev, _ := c.GetOrCompute(ctx, "demo", false, counting("demo", &calls))
	boom := errors.New("boom")
	_, err := c.GetOrCompute(ctx, "demo", true, func(context.Context) (*model.AggregateReport, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Latest() != prev {
		t.Error("failed computation replaced the cached report")
	}
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*model.AggregateReport, error) {
		calls.Add(1)
		<-release
		return &model.AggregateReport{ProjectID: "demo"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*model.AggregateReport, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.GetOrCompute(context.Background(), "demo", false, compute)
		}()
	}
	// Give every caller time to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("compute calls = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if r != results[0] {
			t.Errorf("caller %d got a different report", i)
		}
	}
}

func TestCache_CallerCancelDoesNotAbortCompute(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})
	var computeCtxErr atomic.Value

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "demo", false, func(cctx context.Context) (*model.AggregateReport, error) {
			close(started)
			<-release
			if err := cctx.Err(); err != nil {
				computeCtxErr.Store(err)
			}
			return &model.AggregateReport{ProjectID: "demo"}, nil
		})
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(release)

	deadline := time.After(time.Second)
	for c.Latest() == nil {
		select {
		case <-deadline:
			t.Fatal("computation result never reached the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if v := computeCtxErr.Load(); v != nil {
		t.Errorf("compute saw cancelled context: %v", v)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.Put(&model.AggregateReport{ProjectID: "demo"})
	c.Invalidate()
	if c.Latest() != nil {
		t.Error("Latest() after Invalidate is not nil")
	}
	if _, ok := c.Get("demo"); ok {
		t.Error("Get after Invalidate hit")
	}
}
