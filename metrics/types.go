// Package metrics keeps an in-memory view of pipeline health: a ring of
// recent outcomes, per-class aggregates, and live queue/device gauges. It is
// read by operators (logs, future dashboards), never by the pipeline itself.
package metrics

import (
	"time"

	"cardgen/core"
)

// ClassMetrics aggregates outcomes for one workload class.
type ClassMetrics struct {
	// Total counts every terminal outcome.
	Total int64

	// Delivered counts outcomes that produced a result for the caller.
	Delivered int64

	// Fallbacks counts image deliveries produced by the local renderer.
	Fallbacks int64

	// TotalAttempts sums backend attempts across outcomes.
	TotalAttempts int64

	// AvgLatency is the mean admission-to-terminal latency.
	AvgLatency time.Duration

	// FallbackRatio is Fallbacks / Total, in percent.
	FallbackRatio float64
}

// Snapshot is a point-in-time view of the store plus live gauges.
type Snapshot struct {
	StartTime time.Time
	Uptime    time.Duration

	TotalProcessed int64
	ByClass        map[core.WorkloadClass]ClassMetrics

	// QueueDepths and device gauges are present when a gauge source is
	// attached.
	QueueDepths map[core.WorkloadClass]int
	DevicesBusy map[core.WorkloadClass]int
	DevicesSeen map[core.WorkloadClass]int
}

// GaugeSource supplies live queue and device readings for snapshots.
// pipeline.Service satisfies it.
type GaugeSource interface {
	QueueDepth(class core.WorkloadClass) int
	DeviceUtilization(class core.WorkloadClass) (busy, total int)
}
