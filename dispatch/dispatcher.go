package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cardgen/core"
	"cardgen/devicepool"
	"cardgen/inference"
	"cardgen/jobqueue"
	"cardgen/logging"
	"cardgen/render"
)

// Outcome is the terminal record of one processed request, fanned out to the
// journal and the metrics store. Payloads are never included.
type Outcome struct {
	RequestID  string
	UserID     string
	Class      core.WorkloadClass
	Attempts   int
	Source     core.ImageSource // empty for speech jobs
	Delivered  bool
	Latency    time.Duration
	FinishedAt time.Time
}

// OutcomeSink receives terminal outcomes. Implementations must not block;
// slow consumers buffer internally.
type OutcomeSink interface {
	Record(Outcome)
}

// Config wires one dispatcher to its class resources.
type Config struct {
	Class core.WorkloadClass
	Queue *jobqueue.Queue
	Pool  *devicepool.Pool

	// Client is the remote backend. Nil means no backend is configured and
	// every image job goes straight to the fallback renderer.
	Client inference.Client

	// Fallback and Compositor are required for the image class.
	Fallback   *render.FallbackRenderer
	Compositor *render.Compositor

	Backoff         BackoffPolicy
	MaxAttempts     int
	AttemptTimeout  time.Duration
	ExpectedAttempt time.Duration

	// Prompts and output dimensions apply to image jobs.
	Prompts     core.PromptConfig
	ImageWidth  int
	ImageHeight int

	// DefaultSeed is used for fallback rendering when the request carries
	// none. Negative draws a random seed per request.
	DefaultSeed int64

	// Workers caps the worker loops; zero means one per pooled device.
	// More workers than devices has no value, so the pool size is a hard cap.
	Workers int

	Sinks  []OutcomeSink
	Logger *logging.Logger
}

// Dispatcher runs the worker loops for one workload class. Each loop drives
// one request at a time through lease acquisition, backend attempts with
// backoff, and the fallback path, publishing exactly one terminal result per
// ticket.
type Dispatcher struct {
	cfg     Config
	workers int
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the wiring and creates a dispatcher. Start must be called to
// begin processing.
func New(cfg Config) (*Dispatcher, error) {
	if !cfg.Class.Valid() {
		return nil, fmt.Errorf("dispatch: unknown workload class %q", cfg.Class)
	}
	if cfg.Queue == nil || cfg.Pool == nil {
		return nil, fmt.Errorf("dispatch: queue and pool are required")
	}
	if cfg.Class == core.WorkloadImage && (cfg.Fallback == nil || cfg.Compositor == nil) {
		return nil, fmt.Errorf("dispatch: image class requires fallback renderer and compositor")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	workers := cfg.Workers
	if workers <= 0 || workers > cfg.Pool.Size() {
		workers = cfg.Pool.Size()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		workers: workers,
		logger:  cfg.Logger.Named("dispatch." + string(cfg.Class)),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the worker loops.
func (d *Dispatcher) Start() {
	d.logger.Infow("dispatcher starting",
		zap.Int("workers", d.workers),
		zap.Int("devices", d.cfg.Pool.Size()))

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop cancels the worker loops and waits for in-flight jobs, bounded by
// ctx. Queued tickets not yet dequeued are completed by the queue's Close.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: drain incomplete: %w", ctx.Err())
	}
}

// Workers returns the number of worker loops.
func (d *Dispatcher) Workers() int {
	return d.workers
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	log := d.logger.With(zap.Int("worker", id))
	for {
		ticket, err := d.cfg.Queue.Dequeue(d.ctx)
		if err != nil {
			log.Debug("worker exiting: " + err.Error())
			return
		}
		d.process(ticket, log)
	}
}

// process drives one ticket to its terminal result. The recover guard keeps
// a panicking job body from leaking the worker or losing the request: the
// ticket still terminates through the fallback path and the deferred lease
// release still runs.
func (d *Dispatcher) process(t *jobqueue.Ticket, log *logging.Logger) {
	req := t.Request
	start := time.Now()
	log = log.With(logging.RequestFields(req)...)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("job body panicked", zap.Any("panic", r))
			d.deliverFallback(t, 0, start, log)
		}
	}()

	if req.RemainingBudget(time.Now()) == 0 {
		log.Warn("deadline expired before dispatch")
		d.deliverFallback(t, 0, start, log)
		return
	}

	leaseCtx, cancel := context.WithDeadline(d.ctx, req.Deadline)
	lease, err := d.cfg.Pool.Acquire(leaseCtx)
	cancel()
	if err != nil {
		log.Warnw("no device lease before deadline", zap.Error(err))
		d.deliverFallback(t, 0, start, log)
		return
	}
	defer lease.Release()

	d.runAttempts(t, lease, start, log)
}

// runAttempts executes backend attempts under the retry policy, then routes
// to delivery or fallback.
func (d *Dispatcher) runAttempts(t *jobqueue.Ticket, lease *devicepool.Lease, start time.Time, log *logging.Logger) {
	req := t.Request

	var prompt string
	if req.Class == core.WorkloadImage {
		prompt = inference.BuildPrompt(d.cfg.Prompts, req.Prompt)
	}

	attempts := 0
	var last core.AttemptResult

	for attempt := 1; d.cfg.Client != nil && attempt <= d.cfg.MaxAttempts; attempt++ {
		if t.Cancelled() {
			t.Complete(jobqueue.Result{Err: jobqueue.ErrCancelled})
			return
		}

		remaining := req.RemainingBudget(time.Now())
		if remaining == 0 {
			break
		}

		t.Progress(core.ProgressEvent{
			Stage:        core.StageAttempting,
			Attempt:      attempt,
			ExpectedWait: d.cfg.ExpectedAttempt,
		})

		attemptStart := time.Now()
		last = d.attempt(req, prompt, remaining)
		attempts = attempt

		log.Info("attempt finished",
			append(logging.AttemptFields(lease.Device(), attempt, time.Since(attemptStart)),
				zap.String("outcome", last.Outcome.String()))...)

		// The in-flight attempt finished after a cancel: discard its result.
		if t.Cancelled() {
			t.Complete(jobqueue.Result{Err: jobqueue.ErrCancelled})
			return
		}

		if last.Outcome == core.AttemptSuccess {
			d.deliverPrimary(t, last, attempts, start, log)
			return
		}
		if last.Outcome == core.AttemptFatal {
			log.Warnw("fatal backend failure", zap.String("reason", last.Reason))
			break
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}
		if !d.waitForRetry(t, attempt, last.RetryAfter, log) {
			break
		}
	}

	d.deliverFallback(t, attempts, start, log)
}

// attempt runs one backend call under the per-attempt timeout, clamped to
// the remaining request budget.
func (d *Dispatcher) attempt(req *core.GenerationRequest, prompt string, remaining time.Duration) core.AttemptResult {
	timeout := d.cfg.AttemptTimeout
	if timeout <= 0 || timeout > remaining {
		timeout = remaining
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if req.Class == core.WorkloadSpeech {
		return d.cfg.Client.Transcribe(ctx, req.Audio)
	}
	return d.cfg.Client.GenerateImage(ctx, prompt, d.cfg.ImageWidth, d.cfg.ImageHeight)
}

// waitForRetry sleeps the backoff delay before the next attempt. Returns
// false when the remaining budget cannot fit the delay plus another expected
// attempt, or the dispatcher is stopping.
func (d *Dispatcher) waitForRetry(t *jobqueue.Ticket, failures int, hint time.Duration, log *logging.Logger) bool {
	remaining := t.Request.RemainingBudget(time.Now())
	if remaining == 0 {
		return false
	}

	delay := d.cfg.Backoff.Delay(failures, hint, remaining)
	if delay+d.cfg.ExpectedAttempt > remaining {
		log.Infow("retry abandoned, budget too small",
			zap.Duration("delay", delay),
			zap.Duration("remaining", remaining))
		return false
	}

	t.Progress(core.ProgressEvent{
		Stage:        core.StageRetrying,
		Attempt:      failures,
		ExpectedWait: delay,
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// deliverPrimary completes the ticket with the backend's result.
func (d *Dispatcher) deliverPrimary(t *jobqueue.Ticket, res core.AttemptResult, attempts int, start time.Time, log *logging.Logger) {
	req := t.Request

	if req.Class == core.WorkloadSpeech {
		t.Progress(core.ProgressEvent{Stage: core.StageDelivered})
		if t.Complete(jobqueue.Result{Transcript: res.Transcript}) {
			d.record(req, attempts, "", true, start)
			log.Infow("transcript delivered", zap.Int("attempts", attempts))
		}
		return
	}

	data, err := d.cfg.Compositor.Compose(res.ImageData, req.Prompt)
	if err != nil {
		log.Warnw("overlay degraded", zap.Error(err))
	}

	img := &core.RenderedImage{
		Data:   data,
		Width:  d.cfg.ImageWidth,
		Height: d.cfg.ImageHeight,
		Source: core.SourcePrimary,
	}

	t.Progress(core.ProgressEvent{Stage: core.StageDelivered})
	if t.Complete(jobqueue.Result{Image: img}) {
		d.record(req, attempts, core.SourcePrimary, true, start)
		log.Info("primary image delivered",
			logging.OutcomeFields(core.SourcePrimary, attempts, time.Since(start))...)
	}
}

// deliverFallback terminates the ticket when the primary path is exhausted.
// Image jobs always get a locally rendered image; speech jobs have no local
// substitute and complete with a backend error the facade absorbs.
func (d *Dispatcher) deliverFallback(t *jobqueue.Ticket, attempts int, start time.Time, log *logging.Logger) {
	req := t.Request

	if t.Cancelled() {
		t.Complete(jobqueue.Result{Err: jobqueue.ErrCancelled})
		return
	}

	if req.Class == core.WorkloadSpeech {
		if t.Complete(jobqueue.Result{Err: core.ErrFatalBackend("transcription unavailable")}) {
			d.record(req, attempts, "", false, start)
			log.Warnw("transcription failed terminally", zap.Int("attempts", attempts))
		}
		return
	}

	t.Progress(core.ProgressEvent{Stage: core.StageFallback})

	seed := req.Seed
	if seed < 0 && d.cfg.DefaultSeed >= 0 {
		seed = d.cfg.DefaultSeed
	}

	img := d.cfg.Fallback.Render(seed, req.Prompt)
	data, err := d.cfg.Compositor.Compose(img.Data, req.Prompt)
	if err != nil {
		log.Warnw("overlay degraded", zap.Error(err))
	}
	img.Data = data

	t.Progress(core.ProgressEvent{Stage: core.StageDelivered})
	if t.Complete(jobqueue.Result{Image: img}) {
		d.record(req, attempts, core.SourceFallback, true, start)
		log.Info("fallback image delivered",
			logging.OutcomeFields(core.SourceFallback, attempts, time.Since(start))...)
	}
}

func (d *Dispatcher) record(req *core.GenerationRequest, attempts int, source core.ImageSource, delivered bool, start time.Time) {
	out := Outcome{
		RequestID:  req.ID,
		UserID:     req.UserID,
		Class:      req.Class,
		Attempts:   attempts,
		Source:     source,
		Delivered:  delivered,
		Latency:    time.Since(start),
		FinishedAt: time.Now(),
	}
	for _, sink := range d.cfg.Sinks {
		sink.Record(out)
	}
}
