package report

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// DefaultTTL is how long a computed report is served without recomputing.
const DefaultTTL = 5 * time.Minute

// ComputeFunc produces a fresh report.
type ComputeFunc func(ctx context.Context) (*model.AggregateReport, error)

// Cache holds the most recent report. The report is replaced wholesale and
// never mutated after it is stored, so readers may share it freely.
// Concurrent misses for the same project share one computation.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	report   *model.AggregateReport
	storedAt time.Time

	group singleflight.Group
}

// NewCache creates a cache with the given TTL (DefaultTTL when zero).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// TTL returns the cache's time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached report for projectID while it is younger than the
// TTL.
func (c *Cache) Get(projectID string) (*model.AggregateReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.report == nil || c.report.ProjectID != projectID {
		return nil, false
	}
	if c.now().Sub(c.storedAt) >= c.ttl {
		return nil, false
	}
	return c.report, true
}

// Latest returns the last stored report regardless of age, or nil.
func (c *Cache) Latest() *model.AggregateReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}

// Put stores r as the current report.
func (c *Cache) Put(r *model.AggregateReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = r
	c.storedAt = c.now()
}

// Invalidate drops the current report.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = nil
	c.storedAt = time.Time{}
}

// GetOrCompute returns the fresh cached report for projectID, or runs
// compute and stores its result. force skips the freshness check. A
// computation outlives a caller whose ctx is cancelled so that other waiters
// and the cache still receive its result.
func (c *Cache) GetOrCompute(ctx context.Context, projectID string, force bool, compute ComputeFunc) (*model.AggregateReport, error) {
	if !force {
		if r, ok := c.Get(projectID); ok {
			return r, nil
		}
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(projectID, func() (any, error) {
		r, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.Put(r)
		return r, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.AggregateReport), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
