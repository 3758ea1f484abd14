package logging

import (
	"time"

	"go.uber.org/zap"

	"cardgen/core"
)

// Standard zap fields for request-scoped log entries. Keeping the key names
// in one place makes the journal and the logs joinable on request_id.

// RequestFields returns the identifying fields for a generation request.
func RequestFields(req *core.GenerationRequest) []zap.Field {
	return []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("user_id", req.UserID),
		zap.String("class", string(req.Class)),
	}
}

// AttemptFields returns the fields describing one backend attempt.
func AttemptFields(device string, attempt int, elapsed time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("device", device),
		zap.Int("attempt", attempt),
		zap.Duration("elapsed", elapsed),
	}
}

// OutcomeFields returns the fields for a terminal request outcome.
func OutcomeFields(source core.ImageSource, attempts int, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("source", string(source)),
		zap.Int("attempts", attempts),
		zap.Duration("latency", latency),
	}
}
