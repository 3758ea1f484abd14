// Package core provides shared types, configuration, and the error taxonomy
// for the card generation backend.
//
// types.go defines the atom-level data types that flow through the pipeline:
// GenerationRequest, AttemptResult, RenderedImage, and progress events.
package core

import (
	"time"
)

// WorkloadClass identifies the category of a generation job. Each class has
// its own device pool, queue, and dispatcher, so backpressure and scheduling
// are fully independent between classes.
type WorkloadClass string

const (
	// WorkloadSpeech is voice transcription work (audio bytes -> text).
	WorkloadSpeech WorkloadClass = "speech"

	// WorkloadImage is image synthesis work (prompt -> image bytes).
	WorkloadImage WorkloadClass = "image"
)

// Valid reports whether the workload class is one of the known classes.
func (c WorkloadClass) Valid() bool {
	return c == WorkloadSpeech || c == WorkloadImage
}

// GenerationRequest describes one unit of work submitted by a caller.
// It is immutable after creation; the dispatcher consumes and terminates it.
type GenerationRequest struct {
	// ID uniquely identifies the request (UUID).
	ID string

	// Class selects the device pool and queue the request is routed to.
	Class WorkloadClass

	// UserID identifies the submitting user for rate limiting and logging.
	UserID string

	// Prompt is the text content for image jobs.
	Prompt string

	// Audio holds the audio payload for speech jobs. Nil for image jobs.
	Audio []byte

	// Seed controls fallback rendering determinism. Negative means a random
	// seed is drawn at render time.
	Seed int64

	// SubmittedAt is when the caller created the request.
	SubmittedAt time.Time

	// Deadline is the absolute time by which the request must reach a
	// terminal outcome. The dispatcher checks remaining budget before every
	// blocking step.
	Deadline time.Time
}

// RemainingBudget returns how much time is left before the request's
// deadline at the given instant. Returns zero when expired.
func (r *GenerationRequest) RemainingBudget(now time.Time) time.Duration {
	d := r.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// AttemptOutcome tags the result of a single backend attempt.
type AttemptOutcome int

const (
	// AttemptSuccess means the backend returned a valid result.
	AttemptSuccess AttemptOutcome = iota

	// AttemptRetryable means the attempt failed transiently (model warm-up,
	// rate limit, network) and the dispatcher may retry after a backoff.
	AttemptRetryable

	// AttemptFatal means the attempt failed permanently (auth, malformed
	// prompt) and retrying cannot help.
	AttemptFatal
)

// String returns the human-readable name of the outcome.
func (o AttemptOutcome) String() string {
	switch o {
	case AttemptSuccess:
		return "success"
	case AttemptRetryable:
		return "retryable"
	case AttemptFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// AttemptResult is the tagged outcome of exactly one backend attempt.
// The remote client is a pure classifier over one call; retry policy lives
// in the dispatcher.
type AttemptResult struct {
	// Outcome tags the result.
	Outcome AttemptOutcome

	// ImageData holds the generated image bytes on success (image class).
	ImageData []byte

	// Transcript holds the recognized text on success (speech class).
	Transcript string

	// Reason describes the failure for retryable and fatal outcomes.
	Reason string

	// RetryAfter is the backend's suggested wait before the next attempt.
	// Zero means the backend gave no hint and the dispatcher's own backoff
	// schedule applies.
	RetryAfter time.Duration
}

// ImageSource records which path produced a rendered image.
type ImageSource string

const (
	// SourcePrimary means the remote generation backend produced the image.
	SourcePrimary ImageSource = "primary"

	// SourceFallback means the local deterministic renderer produced it.
	SourceFallback ImageSource = "fallback"
)

// RenderedImage is the finished deliverable: encoded PNG bytes plus
// provenance metadata. Produced exactly once per admitted request.
type RenderedImage struct {
	// Data is the encoded PNG.
	Data []byte

	// Width and Height are the pixel dimensions.
	Width  int
	Height int

	// Source records whether the primary backend or the fallback renderer
	// produced the base image.
	Source ImageSource

	// Seed is the seed the fallback renderer used, when Source is fallback.
	// Recorded so the output can be reproduced after the fact.
	Seed int64
}

// ProgressStage identifies a coarse point in a request's lifecycle, mirrored
// to callers through the optional progress callback.
type ProgressStage string

const (
	StageQueued     ProgressStage = "queued"
	StageAttempting ProgressStage = "attempting"
	StageRetrying   ProgressStage = "retrying"
	StageFallback   ProgressStage = "fallback"
	StageDelivered  ProgressStage = "delivered"
)

// ProgressEvent is a single progress notification for a request.
type ProgressEvent struct {
	// Stage is the lifecycle point being reported.
	Stage ProgressStage

	// Attempt is the 1-based attempt number, when applicable.
	Attempt int

	// ExpectedWait is a rough duration hint for the stage (expected attempt
	// duration, or the backoff delay before the next attempt).
	ExpectedWait time.Duration
}

// ProgressFunc receives progress events for a request. Implementations must
// be fast and must not block; events may be dropped otherwise.
type ProgressFunc func(ProgressEvent)
