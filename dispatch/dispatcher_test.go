package dispatch

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"cardgen/core"
	"cardgen/devicepool"
	"cardgen/inference"
	"cardgen/jobqueue"
	"cardgen/render"
)

// scriptedClient replays a fixed sequence of attempt results.
type scriptedClient struct {
	mu     sync.Mutex
	script []core.AttemptResult
	calls  int
}

func (c *scriptedClient) next() core.AttemptResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.script) {
		return core.AttemptResult{Outcome: core.AttemptFatal, Reason: "script exhausted"}
	}
	res := c.script[c.calls]
	c.calls++
	return res
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) GenerateImage(context.Context, string, int, int) core.AttemptResult {
	return c.next()
}

func (c *scriptedClient) Transcribe(context.Context, []byte) core.AttemptResult {
	return c.next()
}

// captureSink collects outcome records.
type captureSink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *captureSink) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func (s *captureSink) last(t *testing.T) Outcome {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		t.Fatal("no outcome recorded")
	}
	return s.outcomes[len(s.outcomes)-1]
}

func validPNG(t *testing.T) []byte {
	t.Helper()
	data, err := render.EncodePNG(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

type testHarness struct {
	queue      *jobqueue.Queue
	pool       *devicepool.Pool
	dispatcher *Dispatcher
	sink       *captureSink
}

func newHarness(t *testing.T, class core.WorkloadClass, devices []string, client inference.Client, maxAttempts int) *testHarness {
	t.Helper()

	queue, err := jobqueue.New(class, 16)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	pool, err := devicepool.New(class, devices, nil)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	sink := &captureSink{}

	d, err := New(Config{
		Class:           class,
		Queue:           queue,
		Pool:            pool,
		Client:          client,
		Fallback:        render.NewFallbackRenderer(64, 64, nil),
		Compositor:      render.NewCompositor(nil),
		Backoff:         BackoffPolicy{Base: time.Millisecond, Max: 4 * time.Millisecond},
		MaxAttempts:     maxAttempts,
		AttemptTimeout:  time.Second,
		ExpectedAttempt: 0,
		Prompts:         core.DefaultPromptConfig(),
		ImageWidth:      64,
		ImageHeight:     64,
		DefaultSeed:     1,
		Sinks:           []OutcomeSink{sink},
		Logger:          nil,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Stop(ctx)
		queue.Close()
		pool.Close()
	})

	return &testHarness{queue: queue, pool: pool, dispatcher: d, sink: sink}
}

func submit(t *testing.T, h *testHarness, req *core.GenerationRequest) jobqueue.Result {
	t.Helper()

	ticket, err := h.queue.Enqueue(req, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ticket.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return res
}

func imageRequest(id string, deadline time.Duration) *core.GenerationRequest {
	now := time.Now()
	return &core.GenerationRequest{
		ID:          id,
		Class:       core.WorkloadImage,
		UserID:      "user-1",
		Prompt:      "happy birthday",
		Seed:        7,
		SubmittedAt: now,
		Deadline:    now.Add(deadline),
	}
}

func TestWarmupRetriesThenPrimaryDelivery(t *testing.T) {
	client := &scriptedClient{script: []core.AttemptResult{
		{Outcome: core.AttemptRetryable, Reason: "model loading"},
		{Outcome: core.AttemptRetryable, Reason: "model loading"},
		{Outcome: core.AttemptSuccess, ImageData: validPNG(t)},
	}}
	h := newHarness(t, core.WorkloadImage, []string{"cuda:0"}, client, 3)

	res := submit(t, h, imageRequest("warmup", 10*time.Second))

	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Image.Source != core.SourcePrimary {
		t.Errorf("source = %q, want primary", res.Image.Source)
	}
	if client.callCount() != 3 {
		t.Errorf("attempts = %d, want 3", client.callCount())
	}
	out := h.sink.last(t)
	if out.Attempts != 3 || out.Source != core.SourcePrimary {
		t.Errorf("outcome = %+v, want 3 attempts via primary", out)
	}
}

func TestFatalFailureFallsBackWithoutRetry(t *testing.T) {
	client := &scriptedClient{script: []core.AttemptResult{
		{Outcome: core.AttemptFatal, Reason: "invalid auth"},
	}}
	h := newHarness(t, core.WorkloadImage, []string{"cuda:0"}, client, 3)

	res := submit(t, h, imageRequest("fatal", 10*time.Second))

	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Image.Source != core.SourceFallback {
		t.Errorf("source = %q, want fallback", res.Image.Source)
	}
	if client.callCount() != 1 {
		t.Errorf("attempts = %d, want exactly 1 (no retries)", client.callCount())
	}
}

func TestNilClientGoesStraightToFallback(t *testing.T) {
	h := newHarness(t, core.WorkloadImage, []string{"cpu"}, nil, 3)

	res := submit(t, h, imageRequest("no-backend", 10*time.Second))

	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Image.Source != core.SourceFallback {
		t.Errorf("source = %q, want fallback", res.Image.Source)
	}
	out := h.sink.last(t)
	if out.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", out.Attempts)
	}
}

func TestDeadlineWhileWaitingForDeviceFallsBackPromptly(t *testing.T) {
	client := &scriptedClient{script: []core.AttemptResult{
		{Outcome: core.AttemptSuccess, ImageData: validPNG(t)},
	}}
	h := newHarness(t, core.WorkloadImage, []string{"cuda:0"}, client, 3)

	// Hold the only device so the worker blocks on the lease wait.
	lease, err := h.pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()

	start := time.Now()
	res := submit(t, h, imageRequest("starved", 100*time.Millisecond))
	elapsed := time.Since(start)

	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Image.Source != core.SourceFallback {
		t.Errorf("source = %q, want fallback", res.Image.Source)
	}
	if client.callCount() != 0 {
		t.Errorf("backend called %d times while device starved", client.callCount())
	}
	if elapsed > 2*time.Second {
		t.Errorf("fallback took %s after deadline expiry", elapsed)
	}
}

// barrierClient blocks each call until two calls are in flight at once.
type barrierClient struct {
	mu      sync.Mutex
	inside  int
	peak    int
	arrived chan struct{}
	png     []byte
}

func (c *barrierClient) GenerateImage(ctx context.Context, _ string, _, _ int) core.AttemptResult {
	c.mu.Lock()
	c.inside++
	if c.inside > c.peak {
		c.peak = c.inside
	}
	if c.inside == 2 {
		close(c.arrived)
	}
	c.mu.Unlock()

	select {
	case <-c.arrived:
	case <-ctx.Done():
	}

	c.mu.Lock()
	c.inside--
	c.mu.Unlock()
	return core.AttemptResult{Outcome: core.AttemptSuccess, ImageData: c.png}
}

func (c *barrierClient) Transcribe(context.Context, []byte) core.AttemptResult {
	return core.AttemptResult{Outcome: core.AttemptFatal, Reason: "not used"}
}

func TestTwoDevicesServeTwoRequestsConcurrently(t *testing.T) {
	client := &barrierClient{arrived: make(chan struct{}), png: validPNG(t)}
	h := newHarness(t, core.WorkloadImage, []string{"cuda:0", "cuda:1"}, client, 1)

	var wg sync.WaitGroup
	results := make(chan jobqueue.Result, 2)
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			results <- submit(t, h, imageRequest(id, 10*time.Second))
		}(id)
	}
	wg.Wait()
	close(results)

	for res := range results {
		if res.Err != nil {
			t.Fatalf("result error: %v", res.Err)
		}
		if res.Image.Source != core.SourcePrimary {
			t.Errorf("source = %q, want primary", res.Image.Source)
		}
	}
	if client.peak != 2 {
		t.Errorf("peak concurrent attempts = %d, want 2 (one per device)", client.peak)
	}
}

// panicClient panics inside the job body.
type panicClient struct{}

func (panicClient) GenerateImage(context.Context, string, int, int) core.AttemptResult {
	panic("backend client bug")
}

func (panicClient) Transcribe(context.Context, []byte) core.AttemptResult {
	panic("backend client bug")
}

func TestPanicInJobBodyStillDeliversAndReleasesLease(t *testing.T) {
	h := newHarness(t, core.WorkloadImage, []string{"cuda:0"}, panicClient{}, 3)

	res := submit(t, h, imageRequest("boom", 10*time.Second))

	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Image.Source != core.SourceFallback {
		t.Errorf("source = %q, want fallback", res.Image.Source)
	}

	// Lease must be back in the pool; a second request must run normally.
	res = submit(t, h, imageRequest("after-boom", 10*time.Second))
	if res.Err != nil || res.Image == nil {
		t.Fatalf("second request after panic failed: %+v", res)
	}
}

// blockingClient holds each call until released.
type blockingClient struct {
	release chan struct{}
	png     []byte
}

func (c *blockingClient) GenerateImage(ctx context.Context, _ string, _, _ int) core.AttemptResult {
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return core.AttemptResult{Outcome: core.AttemptSuccess, ImageData: c.png}
}

func (c *blockingClient) Transcribe(context.Context, []byte) core.AttemptResult {
	return core.AttemptResult{Outcome: core.AttemptFatal, Reason: "not used"}
}

func TestCancelDuringAttemptDiscardsResult(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), png: validPNG(t)}
	h := newHarness(t, core.WorkloadImage, []string{"cuda:0"}, client, 3)

	ticket, err := h.queue.Enqueue(imageRequest("cancelled", 10*time.Second), nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Let the worker pick it up and block inside the attempt.
	time.Sleep(50 * time.Millisecond)
	ticket.Cancel()
	close(client.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := ticket.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if res.Err != jobqueue.ErrCancelled {
		t.Errorf("result = %+v, want ErrCancelled", res)
	}
	if res.Image != nil {
		t.Error("cancelled request must not deliver an image")
	}

	// The lease was released; the pool serves the next request.
	next := submit(t, h, imageRequest("next", 10*time.Second))
	if next.Err != nil || next.Image == nil {
		t.Fatalf("request after cancel failed: %+v", next)
	}
}

func TestSpeechTranscriptDelivery(t *testing.T) {
	client := &scriptedClient{script: []core.AttemptResult{
		{Outcome: core.AttemptRetryable, Reason: "model loading"},
		{Outcome: core.AttemptSuccess, Transcript: "happy birthday dear anna"},
	}}
	h := newHarness(t, core.WorkloadSpeech, []string{"cpu"}, client, 3)

	now := time.Now()
	res := submit(t, h, &core.GenerationRequest{
		ID:          "voice",
		Class:       core.WorkloadSpeech,
		UserID:      "user-1",
		Audio:       []byte{1, 2, 3},
		SubmittedAt: now,
		Deadline:    now.Add(10 * time.Second),
	})

	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Transcript != "happy birthday dear anna" {
		t.Errorf("transcript = %q", res.Transcript)
	}
	if client.callCount() != 2 {
		t.Errorf("attempts = %d, want 2", client.callCount())
	}
}

func TestSpeechExhaustionCompletesWithError(t *testing.T) {
	client := &scriptedClient{script: []core.AttemptResult{
		{Outcome: core.AttemptFatal, Reason: "unsupported audio"},
	}}
	h := newHarness(t, core.WorkloadSpeech, []string{"cpu"}, client, 3)

	now := time.Now()
	res := submit(t, h, &core.GenerationRequest{
		ID:          "voice-bad",
		Class:       core.WorkloadSpeech,
		UserID:      "user-1",
		Audio:       []byte{1},
		SubmittedAt: now,
		Deadline:    now.Add(10 * time.Second),
	})

	if !core.IsFatalBackend(res.Err) {
		t.Errorf("error = %v, want fatal backend", res.Err)
	}
	out := h.sink.last(t)
	if out.Delivered {
		t.Error("failed transcription should record delivered=false")
	}
}
