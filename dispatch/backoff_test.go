package dispatch

import (
	"testing"
	"time"
)

func fixedJitter(frac float64) func() float64 {
	return func() float64 { return frac }
}

func TestBackoffExponentialSchedule(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, 60*time.Second)
	p.jitterFrac = fixedJitter(0)

	long := time.Hour
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // capped
		{7, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.failures, 0, long); got != tt.want {
			t.Errorf("Delay(failures=%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	p := NewBackoffPolicy(10*time.Second, time.Minute)
	p.jitterFrac = fixedJitter(1)

	got := p.Delay(1, 0, time.Hour)
	if got != 11*time.Second {
		t.Errorf("full jitter Delay = %s, want 11s (base + 10%%)", got)
	}
}

func TestBackoffHintOverridesSchedule(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, time.Minute)
	p.jitterFrac = fixedJitter(0)

	got := p.Delay(1, 45*time.Second, time.Hour)
	if got != 45*time.Second {
		t.Errorf("Delay with hint = %s, want the 45s hint", got)
	}
}

func TestBackoffClampedToRemainingBudget(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, time.Minute)
	p.jitterFrac = fixedJitter(0)

	tests := []struct {
		name      string
		failures  int
		hint      time.Duration
		remaining time.Duration
		want      time.Duration
	}{
		{"computed exceeds budget", 5, 0, 3 * time.Second, 3 * time.Second},
		{"hint exceeds budget", 1, 50 * time.Second, 10 * time.Second, 10 * time.Second},
		{"no budget left", 1, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.failures, tt.hint, tt.remaining); got != tt.want {
				t.Errorf("Delay = %s, want %s", got, tt.want)
			}
		})
	}
}
