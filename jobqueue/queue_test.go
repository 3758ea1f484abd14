package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cardgen/core"
)

func testRequest(id string) *core.GenerationRequest {
	now := time.Now()
	return &core.GenerationRequest{
		ID:          id,
		Class:       core.WorkloadImage,
		UserID:      "user-1",
		Prompt:      "happy birthday",
		SubmittedAt: now,
		Deadline:    now.Add(time.Minute),
	}
}

func TestEnqueueRejectsAtBound(t *testing.T) {
	q, err := New(core.WorkloadImage, 2)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := q.Enqueue(testRequest("a"), nil); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue(testRequest("b"), nil); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	_, err = q.Enqueue(testRequest("c"), nil)
	if err == nil {
		t.Fatal("third enqueue should fail with queue full")
	}
	if !core.IsQueueFull(err) {
		t.Errorf("error = %v, want queue full", err)
	}
	if q.Depth() != 2 {
		t.Errorf("Depth = %d, want 2", q.Depth())
	}
}

func TestDequeueFIFOOrder(t *testing.T) {
	q, _ := New(core.WorkloadImage, 10)

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(testRequest(fmt.Sprintf("req-%d", i)), nil); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ticket, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		want := fmt.Sprintf("req-%d", i)
		if ticket.Request.ID != want {
			t.Errorf("dequeue %d = %q, want %q", i, ticket.Request.ID, want)
		}
	}
}

func TestDepthNeverExceedsBoundUnderConcurrency(t *testing.T) {
	const bound = 4
	q, _ := New(core.WorkloadImage, bound)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := q.Enqueue(testRequest(fmt.Sprintf("req-%d", n)), nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if core.IsQueueFull(err) {
				rejected++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if admitted != bound {
		t.Errorf("admitted = %d, want %d", admitted, bound)
	}
	if rejected != 32-bound {
		t.Errorf("rejected = %d, want %d", rejected, 32-bound)
	}
	if q.Depth() != bound {
		t.Errorf("Depth = %d, want %d", q.Depth(), bound)
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q, _ := New(core.WorkloadSpeech, 5)

	got := make(chan *Ticket, 1)
	go func() {
		ticket, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("dequeue error: %v", err)
			return
		}
		got <- ticket
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Enqueue(testRequest("late"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case ticket := <-got:
		if ticket.Request.ID != "late" {
			t.Errorf("got %q, want late", ticket.Request.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke")
	}
}

// TestNoDuplicateDelivery runs several consumers against a stream of
// enqueues and verifies each ticket is delivered to exactly one consumer.
func TestNoDuplicateDelivery(t *testing.T) {
	const total = 100
	q, _ := New(core.WorkloadImage, total)

	seen := make(chan string, total)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ticket, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				seen <- ticket.Request.ID
			}
		}()
	}

	for i := 0; i < total; i++ {
		if _, err := q.Enqueue(testRequest(fmt.Sprintf("req-%d", i)), nil); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	delivered := make(map[string]int)
	for i := 0; i < total; i++ {
		select {
		case id := <-seen:
			delivered[id]++
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d tickets delivered", i, total)
		}
	}
	cancel()
	wg.Wait()

	for id, count := range delivered {
		if count != 1 {
			t.Errorf("ticket %s delivered %d times", id, count)
		}
	}
	if len(delivered) != total {
		t.Errorf("delivered %d distinct tickets, want %d", len(delivered), total)
	}
}

func TestCancelledTicketDroppedAtDequeue(t *testing.T) {
	q, _ := New(core.WorkloadImage, 5)

	first, _ := q.Enqueue(testRequest("cancel-me"), nil)
	q.Enqueue(testRequest("keep-me"), nil)

	first.Cancel()

	ticket, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if ticket.Request.ID != "keep-me" {
		t.Errorf("dequeued %q, want keep-me", ticket.Request.ID)
	}

	// The cancelled ticket completed with ErrCancelled.
	select {
	case <-first.Done():
		if res := first.Result(); res.Err != ErrCancelled {
			t.Errorf("cancelled result = %v, want ErrCancelled", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled ticket never completed")
	}
}

func TestRemoveQueuedTicket(t *testing.T) {
	q, _ := New(core.WorkloadImage, 5)

	a, _ := q.Enqueue(testRequest("a"), nil)
	b, _ := q.Enqueue(testRequest("b"), nil)

	if !q.Remove(a) {
		t.Error("Remove(a) should find the queued ticket")
	}
	if q.Remove(a) {
		t.Error("second Remove(a) should return false")
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", q.Depth())
	}

	ticket, _ := q.Dequeue(context.Background())
	if ticket != b {
		t.Error("remaining ticket should be b")
	}
}

func TestTicketExactlyOnceCompletion(t *testing.T) {
	ticket := newTicket(testRequest("once"), nil)

	img := &core.RenderedImage{Source: core.SourcePrimary}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if ticket.Complete(Result{Image: img}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Complete won %d times, want exactly 1", wins)
	}

	res, err := ticket.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if res.Image != img {
		t.Error("awaited result does not match completed image")
	}
}

func TestAwaitRespectsContext(t *testing.T) {
	ticket := newTicket(testRequest("never"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ticket.Await(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Await error = %v, want deadline exceeded", err)
	}
}

func TestCloseCompletesPendingAndWakesDequeuers(t *testing.T) {
	q, _ := New(core.WorkloadImage, 5)
	pending, _ := q.Enqueue(testRequest("pending"), nil)

	dequeueErr := make(chan error, 1)
	go func() {
		// Drain the one pending ticket, then block.
		if _, err := q.Dequeue(context.Background()); err != nil {
			dequeueErr <- err
			return
		}
		_, err := q.Dequeue(context.Background())
		dequeueErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-dequeueErr:
		if err != ErrQueueClosed {
			t.Errorf("Dequeue after close = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Dequeue never woke on close")
	}

	_ = pending // drained before close; completion not expected here

	if _, err := q.Enqueue(testRequest("rejected"), nil); err != ErrQueueClosed {
		t.Errorf("Enqueue after close = %v, want ErrQueueClosed", err)
	}
}

func TestProgressQueuedEvent(t *testing.T) {
	q, _ := New(core.WorkloadImage, 5)

	events := make(chan core.ProgressEvent, 1)
	_, err := q.Enqueue(testRequest("p"), func(ev core.ProgressEvent) {
		events <- ev
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Stage != core.StageQueued {
			t.Errorf("stage = %q, want queued", ev.Stage)
		}
	default:
		t.Error("no progress event emitted on admission")
	}
}
