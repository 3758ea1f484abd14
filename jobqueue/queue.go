// Package jobqueue implements the admission-controlled FIFO queue of pending
// generation requests, one queue per workload class.
//
// Admission and the depth check are atomic under one lock, so the configured
// bound can never be exceeded by racing producers. Dequeue blocks until work
// arrives and wakes one waiting dispatcher worker per enqueued slot.
package jobqueue

import (
	"context"
	"errors"
	"sync"

	"cardgen/core"
)

// ErrQueueClosed is returned by Dequeue after Close, letting dispatcher
// worker loops exit cleanly during shutdown.
var ErrQueueClosed = errors.New("jobqueue: queue is closed")

// Queue is a bounded FIFO of pending requests for one workload class.
// Queues for different classes share no state, so backpressure is fully
// independent between classes.
type Queue struct {
	mu     sync.Mutex
	class  core.WorkloadClass
	items  []*Ticket
	max    int
	closed bool

	// notEmpty carries one signal per enqueue. Capacity equals the queue
	// bound, so Enqueue never blocks on the signal.
	notEmpty chan struct{}

	closedCh chan struct{}
}

// New creates a queue for the given class with the given depth bound.
func New(class core.WorkloadClass, maxSize int) (*Queue, error) {
	if maxSize <= 0 {
		return nil, errors.New("jobqueue: max size must be positive")
	}
	return &Queue{
		class:    class,
		max:      maxSize,
		notEmpty: make(chan struct{}, maxSize),
		closedCh: make(chan struct{}),
	}, nil
}

// Enqueue admits a request, returning the ticket the caller awaits. Fails
// with core.ErrQueueFull when the queue is at its bound; the check and the
// append happen atomically.
func (q *Queue) Enqueue(req *core.GenerationRequest, progress core.ProgressFunc) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if len(q.items) >= q.max {
		return nil, core.ErrQueueFull(q.class)
	}

	t := newTicket(req, progress)
	q.items = append(q.items, t)

	select {
	case q.notEmpty <- struct{}{}:
	default:
		// Signal channel full means enough wakeups are already pending.
	}

	t.Progress(core.ProgressEvent{Stage: core.StageQueued})
	return t, nil
}

// Dequeue removes and returns the oldest pending ticket, blocking until one
// is available, the queue closes, or ctx expires. Cancelled tickets are
// dropped here: they complete with ErrCancelled and are never dispatched.
func (q *Queue) Dequeue(ctx context.Context) (*Ticket, error) {
	for {
		if t := q.popFront(); t != nil {
			if t.Cancelled() {
				t.Complete(Result{Err: ErrCancelled})
				continue
			}
			return t, nil
		}

		select {
		case <-q.notEmpty:
			// Work may be available; loop and re-check. Another worker may
			// have taken it, in which case we block again.
		case <-q.closedCh:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// popFront removes the head ticket, or nil when empty.
func (q *Queue) popFront() *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// Remove takes a still-queued ticket out of the queue. Returns true when the
// ticket was found (and therefore had not been dispatched yet).
func (q *Queue) Remove(t *Ticket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item == t {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Depth returns the current number of pending tickets.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Class returns the workload class this queue serves.
func (q *Queue) Class() core.WorkloadClass {
	return q.class
}

// Close stops admission and wakes all blocked Dequeue calls. Pending tickets
// are completed with ErrCancelled so no admitted request is silently lost.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	close(q.closedCh)
	for _, t := range pending {
		t.Complete(Result{Err: ErrCancelled})
	}
}
