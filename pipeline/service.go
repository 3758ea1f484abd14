// Package pipeline assembles the per-class queues, device pools, and
// dispatchers behind a single facade: Submit, AwaitResult, Cancel. It is the
// inbound boundary the transport layer talks to; nothing above this package
// touches queues or leases directly.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardgen/core"
	"cardgen/devicepool"
	"cardgen/dispatch"
	"cardgen/inference"
	"cardgen/jobqueue"
	"cardgen/logging"
	"cardgen/ratelimit"
	"cardgen/render"
)

// defaultGreeting substitutes for the transcript when a voice message could
// not be transcribed, so the voice flow still ends in a card.
const defaultGreeting = "Happy birthday!"

// workloadClasses lists the classes the service assembles resources for.
var workloadClasses = []core.WorkloadClass{core.WorkloadSpeech, core.WorkloadImage}

// Submission is one unit of caller work.
type Submission struct {
	UserID string
	Class  core.WorkloadClass

	// Prompt is the greeting text for image jobs.
	Prompt string

	// Audio is the voice payload for speech jobs.
	Audio []byte

	// Seed pins fallback rendering. Zero uses the configured default.
	Seed int64

	// Deadline bounds the request end to end. Zero applies the configured
	// default maximum wait.
	Deadline time.Time

	// Progress optionally receives lifecycle events. Must not block.
	Progress core.ProgressFunc
}

// Service is the generation backend facade. Safe for concurrent use.
type Service struct {
	cfg     *core.Config
	limiter *ratelimit.Limiter
	logger  *logging.Logger

	queues      map[core.WorkloadClass]*jobqueue.Queue
	pools       map[core.WorkloadClass]*devicepool.Pool
	dispatchers map[core.WorkloadClass]*dispatch.Dispatcher

	mu      sync.Mutex
	tickets map[string]*jobqueue.Ticket
	closed  bool
}

// NewService wires queues, pools, and dispatchers for every workload class.
// client may be nil, in which case every image job uses the fallback
// renderer and every speech job fails over to the default greeting.
func NewService(cfg *core.Config, client inference.Client, sinks []dispatch.OutcomeSink, logger *logging.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: config cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Service{
		cfg:         cfg,
		limiter:     ratelimit.NewPerMinuteLimiter(cfg.RateLimitPerMinute),
		logger:      logger.Named("pipeline"),
		queues:      make(map[core.WorkloadClass]*jobqueue.Queue),
		pools:       make(map[core.WorkloadClass]*devicepool.Pool),
		dispatchers: make(map[core.WorkloadClass]*dispatch.Dispatcher),
		tickets:     make(map[string]*jobqueue.Ticket),
	}

	fallback := render.NewFallbackRenderer(cfg.ImageWidth, cfg.ImageHeight, logger)
	compositor := render.NewCompositor(logger)

	for _, class := range workloadClasses {
		queue, err := jobqueue.New(class, cfg.MaxQueueSize)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s queue: %w", class, err)
		}
		pool, err := devicepool.New(class, cfg.Devices(class), logger)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s pool: %w", class, err)
		}

		d, err := dispatch.New(dispatch.Config{
			Class:           class,
			Queue:           queue,
			Pool:            pool,
			Client:          client,
			Fallback:        fallback,
			Compositor:      compositor,
			Backoff:         dispatch.NewBackoffPolicy(cfg.RetryBackoffBase, cfg.RetryBackoffMax),
			MaxAttempts:     cfg.MaxAttempts,
			AttemptTimeout:  cfg.AttemptTimeout,
			ExpectedAttempt: cfg.ExpectedAttempt(class),
			Prompts:         cfg.Prompts,
			ImageWidth:      cfg.ImageWidth,
			ImageHeight:     cfg.ImageHeight,
			DefaultSeed:     cfg.Seed,
			Sinks:           sinks,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s dispatcher: %w", class, err)
		}

		s.queues[class] = queue
		s.pools[class] = pool
		s.dispatchers[class] = d
	}

	return s, nil
}

// Start launches the dispatcher worker loops.
func (s *Service) Start() {
	for _, d := range s.dispatchers {
		d.Start()
	}
	s.logger.Info("pipeline started")
}

// Submit gates a request through the rate limiter and queue admission and
// returns its request ID. Rejections are core.ErrRateLimited and
// core.ErrQueueFull; an accepted request always reaches a terminal result.
func (s *Service) Submit(sub Submission) (string, error) {
	return s.submit(sub, true)
}

func (s *Service) submit(sub Submission, gated bool) (string, error) {
	if !sub.Class.Valid() {
		return "", fmt.Errorf("pipeline: unknown workload class %q", sub.Class)
	}
	if sub.UserID == "" {
		return "", fmt.Errorf("pipeline: user id is required")
	}

	if gated && !s.limiter.TryAcquire(sub.UserID) {
		return "", core.ErrRateLimited(sub.UserID)
	}

	now := time.Now()
	deadline := sub.Deadline
	if deadline.IsZero() {
		deadline = now.Add(s.cfg.DefaultMaxWait)
	}
	seed := sub.Seed
	if seed == 0 {
		seed = s.cfg.Seed
	}

	req := &core.GenerationRequest{
		ID:          uuid.NewString(),
		Class:       sub.Class,
		UserID:      sub.UserID,
		Prompt:      sub.Prompt,
		Audio:       sub.Audio,
		Seed:        seed,
		SubmittedAt: now,
		Deadline:    deadline,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("pipeline: service is shut down")
	}
	s.mu.Unlock()

	ticket, err := s.queues[sub.Class].Enqueue(req, sub.Progress)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tickets[req.ID] = ticket
	s.mu.Unlock()

	s.logger.Info("request admitted", logging.RequestFields(req)...)
	return req.ID, nil
}

// AwaitResult blocks until the request reaches its terminal result or ctx
// expires. The registry entry is dropped once the result is observed.
func (s *Service) AwaitResult(ctx context.Context, requestID string) (jobqueue.Result, error) {
	s.mu.Lock()
	ticket, ok := s.tickets[requestID]
	s.mu.Unlock()
	if !ok {
		return jobqueue.Result{}, core.ErrUnknownRequest(requestID)
	}

	res, err := ticket.Await(ctx)
	if err != nil {
		return jobqueue.Result{}, err
	}

	s.mu.Lock()
	delete(s.tickets, requestID)
	s.mu.Unlock()
	return res, nil
}

// Cancel marks a request cancelled. Still-queued requests complete with a
// cancellation error immediately; an in-flight attempt finishes but its
// result is discarded.
func (s *Service) Cancel(requestID string) error {
	s.mu.Lock()
	ticket, ok := s.tickets[requestID]
	s.mu.Unlock()
	if !ok {
		return core.ErrUnknownRequest(requestID)
	}

	ticket.Cancel()
	if s.queues[ticket.Request.Class].Remove(ticket) {
		ticket.Complete(jobqueue.Result{Err: jobqueue.ErrCancelled})
	}
	return nil
}

// GenerateFromVoice runs the full voice flow: transcribe the audio on the
// speech pool, then generate a card from the transcript on the image pool.
// A failed transcription substitutes the default greeting instead of failing
// the flow; the rate limiter charges the user once.
func (s *Service) GenerateFromVoice(ctx context.Context, userID string, audio []byte, progress core.ProgressFunc) (jobqueue.Result, error) {
	deadline := time.Now().Add(s.cfg.DefaultMaxWait)

	speechID, err := s.Submit(Submission{
		UserID:   userID,
		Class:    core.WorkloadSpeech,
		Audio:    audio,
		Deadline: deadline,
		Progress: progress,
	})
	if err != nil {
		return jobqueue.Result{}, err
	}

	speechRes, err := s.AwaitResult(ctx, speechID)
	if err != nil {
		return jobqueue.Result{}, err
	}

	greeting := speechRes.Transcript
	if speechRes.Err != nil || greeting == "" {
		s.logger.Warnw("voice flow using default greeting",
			"user_id", userID, "error", speechRes.Err)
		greeting = defaultGreeting
	}

	imageID, err := s.submit(Submission{
		UserID:   userID,
		Class:    core.WorkloadImage,
		Prompt:   greeting,
		Deadline: deadline,
		Progress: progress,
	}, false)
	if err != nil {
		return jobqueue.Result{}, err
	}

	return s.AwaitResult(ctx, imageID)
}

// QueueDepth returns the pending depth for a class, for metrics gauges.
func (s *Service) QueueDepth(class core.WorkloadClass) int {
	if q, ok := s.queues[class]; ok {
		return q.Depth()
	}
	return 0
}

// DeviceUtilization returns busy and total device counts for a class.
func (s *Service) DeviceUtilization(class core.WorkloadClass) (busy, total int) {
	p, ok := s.pools[class]
	if !ok {
		return 0, 0
	}
	total = p.Size()
	busy = total - p.FreeCount()
	return busy, total
}

// Shutdown stops admission, drains the dispatchers bounded by ctx, and
// releases the pools. Queued requests that never dispatched complete with a
// cancellation error.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, q := range s.queues {
		q.Close()
	}

	var firstErr error
	for class, d := range s.dispatchers {
		if err := d.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pipeline: %s: %w", class, err)
		}
	}

	for _, p := range s.pools {
		p.Close()
	}

	s.logger.Info("pipeline stopped")
	return firstErr
}
