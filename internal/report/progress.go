package report

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage names emitted during a computation, in order. Per-dimension
// classification is reported as StageDimensionPrefix + name.
const (
	StageDimensions      = "dimensions"
	StageTasks           = "tasks"
	StageBackfill        = "backfill"
	StageClassify        = "classify"
	StageDimensionPrefix = "dimension:"
	StageRollup          = "rollup"
	StageDone            = "done"
)

// Progress is one step of a report computation.
type Progress struct {
	RunID     string    `json:"run_id"`
	ProjectID string    `json:"project_id"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	At        time.Time `json:"at"`
}

// ProgressFunc observes progress. It is called from the computing goroutine
// and must not block; wrap slow observers with NewDispatcher.
type ProgressFunc func(Progress)

const dispatchBuffer = 64

// Dispatcher delivers progress to a slow observer on its own goroutine.
// Events keep their order; when the buffer is full new events are dropped
// rather than stalling the computation.
type Dispatcher struct {
	ch      chan Progress
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewDispatcher starts delivering to fn.
func NewDispatcher(fn ProgressFunc) *Dispatcher {
	d := &Dispatcher{
		ch:   make(chan Progress, dispatchBuffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for p := range d.ch {
			fn(p)
		}
	}()
	return d
}

// Emit queues p without blocking. It must not be called after Close.
func (d *Dispatcher) Emit(p Progress) {
	select {
	case d.ch <- p:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close flushes queued events and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.ch) })
	<-d.done
}
