package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MaxAttempts caps how many times a marker may be re-offered after
// delivery failures. Past the cap the marker is dropped and the durable
// emission record is left for the sweep to pick up.
const MaxAttempts = 10

// Marker records that a transition happened for a resource. It carries the
// id of the durable transition row, never the status itself, so the
// consumer re-reads committed truth instead of trusting a stale copy.
// Markers do not survive a process restart.
type Marker struct {
	TransitionEventID  int64
	ResourceType       string
	ResourceExternalID string
	EventType          string
	ReadyAt            time.Time
	Attempts           int
}

type markerHeap []Marker

func (h markerHeap) Len() int            { return len(h) }
func (h markerHeap) Less(i, j int) bool  { return h[i].ReadyAt.Before(h[j].ReadyAt) }
func (h markerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *markerHeap) Push(x interface{}) { *h = append(*h, x.(Marker)) }
func (h *markerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// DelayQueue is an in-process delay queue: items become eligible only once
// their ReadyAt has elapsed, and eligible items drain in readiness order.
// The whole structure is lost on restart; the emission ledger sweep is the
// durable backstop.
type DelayQueue struct {
	mu    sync.Mutex
	items markerHeap
	wake  chan struct{}
}

func New() *DelayQueue {
	q := &DelayQueue{wake: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

// Offer enqueues a marker. It never blocks and always succeeds, bounded
// only by memory.
func (q *DelayQueue) Offer(m Marker) {
	q.mu.Lock()
	heap.Push(&q.items, m)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Poll blocks up to timeout for the next eligible marker. The second
// return is false when the timeout or ctx expired first. A marker is never
// returned before its ReadyAt.
func (q *DelayQueue) Poll(ctx context.Context, timeout time.Duration) (Marker, bool) {
	deadline := time.Now().Add(timeout)

	for {
		q.mu.Lock()
		now := time.Now()
		var wait time.Duration
		if len(q.items) > 0 {
			head := q.items[0]
			if !head.ReadyAt.After(now) {
				m := heap.Pop(&q.items).(Marker)
				q.mu.Unlock()
				return m, true
			}
			wait = head.ReadyAt.Sub(now)
		} else {
			wait = deadline.Sub(now)
		}
		q.mu.Unlock()

		if remaining := time.Until(deadline); remaining <= 0 {
			return Marker{}, false
		} else if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Marker{}, false
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
