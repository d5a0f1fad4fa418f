// Package metrics consumes the core's trace stream and turns it into
// the numbers a benchmark reports: packet counters, commit/abort
// counts and latency percentiles. It lives entirely outside the
// simulation core; nothing in here feeds back into a run.
package metrics

import (
	"golang.org/x/exp/slices"

	"dcsim/internal/trace"
)

// LatencyStats summarizes a latency sample set.
type LatencyStats struct {
	Count  int
	Min    float64
	Max    float64
	Avg    float64
	Median float64
	P95    float64
	P99    float64
}

// Stats computes summary statistics over samples. An empty input
// yields the zero value.
func Stats(samples []float64) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), samples...)
	slices.Sort(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	return LatencyStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Avg:    sum / float64(n),
		Median: percentile(sorted, 0.50),
		P95:    percentile(sorted, 0.95),
		P99:    percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Collector tallies trace events. Register it as the run's sink (or
// one arm of a trace.Multi).
type Collector struct {
	Scheduled          int
	Delivered          int
	Dropped            int
	SyncViolations     int
	Commits            int
	Aborts             int
	ProtocolViolations int
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Record(ev trace.Event) {
	switch ev.Kind {
	case trace.MessageScheduled:
		c.Scheduled++
	case trace.MessageDelivered:
		c.Delivered++
	case trace.MessageDropped:
		c.Dropped++
	case trace.SyncViolation:
		c.SyncViolations++
	case trace.RequestCommitted:
		c.Commits++
	case trace.RequestAborted:
		c.Aborts++
	case trace.ProtocolViolation:
		c.ProtocolViolations++
	}
}

// DeliveryRate is delivered sends over attempted sends.
func (c *Collector) DeliveryRate() float64 {
	total := c.Scheduled + c.Dropped
	if total == 0 {
		return 1
	}
	return float64(c.Scheduled) / float64(total)
}

// CommitRate is commits over commits+aborts.
func (c *Collector) CommitRate() float64 {
	total := c.Commits + c.Aborts
	if total == 0 {
		return 0
	}
	return float64(c.Commits) / float64(total)
}
