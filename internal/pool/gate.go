// Package pool provides the concurrency gate that bounds in-flight agent calls.
package pool

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate admits at most Capacity holders at once. Waiters are served in FIFO
// order and give up when their context ends.
type Gate struct {
	capacity int64
	sem      *semaphore.Weighted

	// Metrics
	inFlight  atomic.Int64
	peak      atomic.Int64
	waiting   atomic.Int64
	acquired  atomic.Int64
	cancelled atomic.Int64
	waitNanos atomic.Int64
}

// GateStats is a snapshot of gate counters.
type GateStats struct {
	Capacity  int64         `json:"capacity"`
	InFlight  int64         `json:"in_flight"`
	Peak      int64         `json:"peak"`
	Waiting   int64         `json:"waiting"`
	Acquired  int64         `json:"acquired"`
	Cancelled int64         `json:"cancelled"`
	TotalWait time.Duration `json:"total_wait"`
}

// NewGate creates a gate. A capacity below 1 is raised to 1.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Capacity returns the maximum number of concurrent holders.
func (g *Gate) Capacity() int { return int(g.capacity) }

// Acquire blocks until a slot is free or ctx ends. The returned release
// function must be called exactly once; extra calls are no-ops.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	start := time.Now()
	g.waiting.Add(1)
	err = g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	g.waitNanos.Add(int64(time.Since(start)))
	if err != nil {
		g.cancelled.Add(1)
		return nil, err
	}

	g.acquired.Add(1)
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		}
	}, nil
}

// Stats returns current counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Capacity:  g.capacity,
		InFlight:  g.inFlight.Load(),
		Peak:      g.peak.Load(),
		Waiting:   g.waiting.Load(),
		Acquired:  g.acquired.Load(),
		Cancelled: g.cancelled.Load(),
		TotalWait: time.Duration(g.waitNanos.Load()),
	}
}
