package core

import "fmt"

// Error taxonomy for the generation pipeline.
//
// Only queue-full and rate-limited are surfaced to callers as explicit
// rejections; every other failure mode inside the pipeline is absorbed by the
// fallback path. The typed errors below carry enough context for the HTTP or
// bot layer to map rejections to user-visible messages.

// queueFullError signals admission rejection due to queue backpressure.
type queueFullError struct{ class WorkloadClass }

func (e queueFullError) Error() string {
	return fmt.Sprintf("queue full for class %q", e.class)
}

// ErrQueueFull constructs a queue-full admission error for a workload class.
func ErrQueueFull(class WorkloadClass) error { return queueFullError{class: class} }

// IsQueueFull reports whether err indicates queue backpressure
// (user-visible "try again later").
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// rateLimitedError signals admission rejection by the per-user token bucket.
type rateLimitedError struct{ userID string }

func (e rateLimitedError) Error() string {
	return "rate limited: user " + e.userID
}

// ErrRateLimited constructs a rate-limit admission error for a user.
func ErrRateLimited(userID string) error { return rateLimitedError{userID: userID} }

// IsRateLimited reports whether err indicates the per-user rate limit was hit.
func IsRateLimited(err error) bool {
	_, ok := err.(rateLimitedError)
	return ok
}

// noDeviceError signals that the lease wait exhausted its budget. This drives
// the fallback path internally and is never surfaced as a hard error.
type noDeviceError struct{ class WorkloadClass }

func (e noDeviceError) Error() string {
	return fmt.Sprintf("no device available for class %q", e.class)
}

// ErrNoDeviceAvailable constructs a lease-wait-exhausted error.
func ErrNoDeviceAvailable(class WorkloadClass) error { return noDeviceError{class: class} }

// IsNoDeviceAvailable reports whether err indicates the device lease wait
// timed out.
func IsNoDeviceAvailable(err error) bool {
	_, ok := err.(noDeviceError)
	return ok
}

// fatalBackendError signals a permanent backend failure (auth, malformed
// prompt). It short-circuits retries and drives the fallback path.
type fatalBackendError struct{ reason string }

func (e fatalBackendError) Error() string {
	return "fatal backend failure: " + e.reason
}

// ErrFatalBackend constructs a permanent backend failure error.
func ErrFatalBackend(reason string) error { return fatalBackendError{reason: reason} }

// IsFatalBackend reports whether err indicates a non-retryable backend
// failure.
func IsFatalBackend(err error) bool {
	_, ok := err.(fatalBackendError)
	return ok
}

// compositionError signals that laying text onto a base image failed. The
// dispatcher degrades to delivering the unmodified base image; this error is
// logged, never surfaced.
type compositionError struct{ reason string }

func (e compositionError) Error() string {
	return "composition failed: " + e.reason
}

// ErrComposition constructs a text composition failure error.
func ErrComposition(reason string) error { return compositionError{reason: reason} }

// IsComposition reports whether err indicates a compositor failure.
func IsComposition(err error) bool {
	_, ok := err.(compositionError)
	return ok
}

// unknownRequestError signals a lookup for a request ID the service does not
// track (never submitted, or already delivered and reaped).
type unknownRequestError struct{ id string }

func (e unknownRequestError) Error() string {
	return "unknown request: " + e.id
}

// ErrUnknownRequest constructs an unknown-request lookup error.
func ErrUnknownRequest(id string) error { return unknownRequestError{id: id} }

// IsUnknownRequest reports whether err indicates an untracked request ID.
func IsUnknownRequest(err error) bool {
	_, ok := err.(unknownRequestError)
	return ok
}
