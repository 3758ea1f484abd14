package metrics

import (
	"sync"
	"time"

	"cardgen/core"
	"cardgen/dispatch"
)

// classStats is the mutable per-class aggregate.
type classStats struct {
	total        int64
	delivered    int64
	fallbacks    int64
	attempts     int64
	totalLatency time.Duration
}

// Store is the in-memory metrics store. It implements dispatch.OutcomeSink;
// Record is cheap and non-blocking so dispatcher workers can call it inline.
type Store struct {
	mu sync.RWMutex

	// Ring buffer of recent outcomes.
	recent []dispatch.Outcome
	head   int
	size   int
	cap    int

	byClass   map[core.WorkloadClass]*classStats
	total     int64
	startTime time.Time

	gauges GaugeSource
}

// NewStore creates a store retaining up to capacity recent outcomes.
func NewStore(capacity int, startTime time.Time) *Store {
	if capacity < 1 {
		capacity = 100
	}
	return &Store{
		recent:    make([]dispatch.Outcome, capacity),
		cap:       capacity,
		byClass:   make(map[core.WorkloadClass]*classStats),
		startTime: startTime,
	}
}

// AttachGauges connects a live gauge source so snapshots include queue
// depths and device utilization.
func (s *Store) AttachGauges(src GaugeSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges = src
}

// Record folds one terminal outcome into the aggregates.
func (s *Store) Record(o dispatch.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent[s.head] = o
	s.head = (s.head + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}

	s.total++
	stats, ok := s.byClass[o.Class]
	if !ok {
		stats = &classStats{}
		s.byClass[o.Class] = stats
	}
	stats.total++
	if o.Delivered {
		stats.delivered++
	}
	if o.Source == core.SourceFallback {
		stats.fallbacks++
	}
	stats.attempts += int64(o.Attempts)
	stats.totalLatency += o.Latency
}

// Snapshot returns the current aggregates plus live gauges.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		StartTime:      s.startTime,
		Uptime:         time.Since(s.startTime),
		TotalProcessed: s.total,
		ByClass:        make(map[core.WorkloadClass]ClassMetrics, len(s.byClass)),
	}

	for class, stats := range s.byClass {
		m := ClassMetrics{
			Total:         stats.total,
			Delivered:     stats.delivered,
			Fallbacks:     stats.fallbacks,
			TotalAttempts: stats.attempts,
		}
		if stats.total > 0 {
			m.AvgLatency = stats.totalLatency / time.Duration(stats.total)
			m.FallbackRatio = float64(stats.fallbacks) / float64(stats.total) * 100
		}
		snap.ByClass[class] = m
	}

	if s.gauges != nil {
		snap.QueueDepths = make(map[core.WorkloadClass]int)
		snap.DevicesBusy = make(map[core.WorkloadClass]int)
		snap.DevicesSeen = make(map[core.WorkloadClass]int)
		for _, class := range []core.WorkloadClass{core.WorkloadSpeech, core.WorkloadImage} {
			snap.QueueDepths[class] = s.gauges.QueueDepth(class)
			busy, total := s.gauges.DeviceUtilization(class)
			snap.DevicesBusy[class] = busy
			snap.DevicesSeen[class] = total
		}
	}

	return snap
}

// RecentOutcomes returns the retained outcomes, newest first.
func (s *Store) RecentOutcomes() []dispatch.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dispatch.Outcome, 0, s.size)
	for i := 0; i < s.size; i++ {
		idx := (s.head - 1 - i + s.cap) % s.cap
		out = append(out, s.recent[idx])
	}
	return out
}

// Ensure Store implements the dispatcher's sink at compile time.
var _ dispatch.OutcomeSink = (*Store)(nil)
