package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"cardgen/core"
)

// Backend wait hints. The warm-up hint covers the model loading window the
// backend reports with 503; the quota hint covers rate limiting, which
// recovers on a slower clock.
const (
	warmupRetryHint = 30 * time.Second
	quotaRetryHint  = 60 * time.Second
)

// fatalStatuses are HTTP statuses where retrying the identical request
// cannot change the outcome.
var fatalStatuses = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusUnauthorized:        true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusUnprocessableEntity: true,
}

// classifyError maps a backend call error to a tagged attempt result.
// Unknown failures classify as retryable: the fallback renderer bounds the
// damage of optimism, while a wrong fatal costs a winnable request.
func classifyError(err error) core.AttemptResult {
	if err == nil {
		return core.AttemptResult{Outcome: core.AttemptSuccess}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return retryable("attempt timed out", 0)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if fatalStatuses[reqErr.HTTPStatusCode] {
			return fatal(err.Error())
		}
		return retryable(err.Error(), 0)
	}

	// Transport-level failures (connection refused, reset, DNS).
	return retryable(err.Error(), 0)
}

func classifyAPIError(apiErr *openai.APIError) core.AttemptResult {
	msg := strings.ToLower(apiErr.Message)

	switch {
	case apiErr.HTTPStatusCode == http.StatusServiceUnavailable,
		strings.Contains(msg, "loading"),
		strings.Contains(msg, "warming up"):
		return retryable(apiErr.Message, warmupRetryHint)

	case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"):
		return retryable(apiErr.Message, quotaRetryHint)

	case isContentPolicy(apiErr):
		return fatal(apiErr.Message)

	case fatalStatuses[apiErr.HTTPStatusCode]:
		return fatal(apiErr.Message)

	default:
		// 5xx and anything unrecognized.
		return retryable(apiErr.Message, 0)
	}
}

// isContentPolicy detects safety-system rejections, which are fatal
// regardless of status code.
func isContentPolicy(apiErr *openai.APIError) bool {
	if code, ok := apiErr.Code.(string); ok {
		if strings.Contains(code, "content_policy") || strings.Contains(code, "moderation") {
			return true
		}
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "content policy") || strings.Contains(msg, "safety system")
}

func retryable(reason string, hint time.Duration) core.AttemptResult {
	return core.AttemptResult{
		Outcome:    core.AttemptRetryable,
		Reason:     reason,
		RetryAfter: hint,
	}
}

func fatal(reason string) core.AttemptResult {
	return core.AttemptResult{
		Outcome: core.AttemptFatal,
		Reason:  reason,
	}
}
