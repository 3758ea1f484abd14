package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cardgen/core"
)

// ErrCancelled completes the ticket of a request the caller cancelled while
// it was still queued, or whose in-flight result was discarded.
var ErrCancelled = errors.New("jobqueue: request cancelled")

// Result is the terminal outcome delivered through a ticket. Image jobs that
// are not cancelled always deliver an image; speech jobs deliver a
// transcript, or an error when transcription could not be completed.
type Result struct {
	Image      *core.RenderedImage
	Transcript string
	Err        error
}

// Ticket is the caller's handle on an admitted request. It is a
// single-writer promise: exactly one Complete call wins, every later call is
// a no-op, and all awaiters observe the same result.
type Ticket struct {
	// Request is the admitted request this ticket tracks.
	Request *core.GenerationRequest

	// AdmittedAt is when the request passed admission control.
	AdmittedAt time.Time

	progress core.ProgressFunc

	once      sync.Once
	done      chan struct{}
	result    Result
	cancelled atomic.Bool
}

// newTicket wraps a request for queue admission.
func newTicket(req *core.GenerationRequest, progress core.ProgressFunc) *Ticket {
	return &Ticket{
		Request:    req,
		AdmittedAt: time.Now(),
		progress:   progress,
		done:       make(chan struct{}),
	}
}

// Complete publishes the terminal result. Returns true for the single call
// that wins; duplicate completions return false and change nothing.
func (t *Ticket) Complete(res Result) bool {
	won := false
	t.once.Do(func() {
		t.result = res
		close(t.done)
		won = true
	})
	return won
}

// Done returns a channel closed once the ticket has its terminal result.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Await blocks until the ticket completes or ctx expires.
func (t *Ticket) Await(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the terminal result. Only valid after Done is closed.
func (t *Ticket) Result() Result {
	return t.result
}

// Cancel marks the ticket cancelled. The queue drops cancelled tickets at
// dequeue; an attempt already in flight finishes but its result is
// discarded.
func (t *Ticket) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether the caller cancelled this request.
func (t *Ticket) Cancelled() bool {
	return t.cancelled.Load()
}

// Progress delivers a progress event to the caller's callback, if any.
func (t *Ticket) Progress(ev core.ProgressEvent) {
	if t.progress != nil {
		t.progress(ev)
	}
}
