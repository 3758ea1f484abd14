package core

import (
	"testing"
	"time"
)

func TestRemainingBudget(t *testing.T) {
	now := time.Now()
	req := &GenerationRequest{Deadline: now.Add(10 * time.Second)}

	if got := req.RemainingBudget(now); got != 10*time.Second {
		t.Errorf("RemainingBudget = %s, want 10s", got)
	}
	if got := req.RemainingBudget(now.Add(time.Minute)); got != 0 {
		t.Errorf("RemainingBudget after deadline = %s, want 0", got)
	}
}

func TestWorkloadClassValid(t *testing.T) {
	if !WorkloadSpeech.Valid() || !WorkloadImage.Valid() {
		t.Error("known classes should be valid")
	}
	if WorkloadClass("video").Valid() {
		t.Error("unknown class should be invalid")
	}
}

func TestAttemptOutcomeString(t *testing.T) {
	tests := []struct {
		outcome AttemptOutcome
		want    string
	}{
		{AttemptSuccess, "success"},
		{AttemptRetryable, "retryable"},
		{AttemptFatal, "fatal"},
		{AttemptOutcome(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
