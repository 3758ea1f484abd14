package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTriggerCancelsContext(t *testing.T) {
	m := NewManager(nil)

	select {
	case <-m.Context().Done():
		t.Fatal("context done before trigger")
	default:
	}

	m.Trigger()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after Trigger")
	}
}

func TestShutdownRunsStepsOnce(t *testing.T) {
	m := NewManager(nil, WithTimeout(2*time.Second))

	ran := 0
	m.Register("pipeline", 10, func(context.Context) error {
		ran++
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if ran != 1 {
		t.Errorf("steps ran %d times, want once", ran)
	}
}

func TestShutdownReportsStepFailures(t *testing.T) {
	m := NewManager(nil)
	m.Register("broken", 10, func(context.Context) error {
		return errors.New("close failed")
	})

	if err := m.Shutdown(); err == nil {
		t.Error("Shutdown should report failed steps")
	}
}

func TestWaitReturnsAfterTrigger(t *testing.T) {
	m := NewManager(nil)

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	m.Trigger()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Trigger")
	}
}
