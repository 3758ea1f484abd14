// Package shutdown coordinates graceful process teardown: a priority-ordered
// registry of cleanup functions and a signal-driven manager. First signal
// starts the graceful sequence, second signal forces exit.
package shutdown

import (
	"context"
	"sort"
	"sync"
)

// Func is one cleanup step. It receives a context bounding the whole
// shutdown sequence.
type Func func(ctx context.Context) error

// entry pairs a cleanup function with its ordering metadata.
type entry struct {
	name     string
	priority int // lower runs earlier
	fn       Func
}

// Registry holds cleanup functions and runs them in priority order.
// Registration after Run is a no-op.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a cleanup step. Lower priorities run first: drain the
// pipeline before closing the journal, close the journal before syncing the
// logger.
func (r *Registry) Register(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, entry{name: name, priority: priority, fn: fn})
}

// Run executes every registered step in priority order, even when earlier
// steps fail, and returns the collected errors. Idempotent: only the first
// call runs anything.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := make([]entry, len(r.entries))
	copy(sorted, r.entries)
	r.mu.Unlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})

	var errs []error
	for _, e := range sorted {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Names lists the registered steps in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := make([]entry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})

	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered steps.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
