// Package inference talks to the hosted generation backend.
//
// The client is a pure per-attempt classifier: every call maps to exactly one
// core.AttemptResult (success, retryable, or fatal) and never retries on its
// own. Retry policy, backoff, and fallback all live in the dispatcher.
package inference

import (
	"context"

	"cardgen/core"
)

// Client is the remote backend for both workload classes. Implementations
// must be safe for concurrent use; the dispatcher calls them from one
// goroutine per leased device.
type Client interface {
	// GenerateImage runs one image synthesis attempt for the given prompt.
	GenerateImage(ctx context.Context, prompt string, width, height int) core.AttemptResult

	// Transcribe runs one speech recognition attempt over the audio bytes.
	Transcribe(ctx context.Context, audio []byte) core.AttemptResult
}
