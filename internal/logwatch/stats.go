package logwatch

import (
	"math"
	"sort"
)

// latencyRingSize bounds the rolling latency sample window
const latencyRingSize = 1000

// latencyRing keeps the most recent latency samples in a fixed-capacity
// circular buffer
type latencyRing struct {
	samples []float64
	next    int
	full    bool
}

func newLatencyRing(size int) *latencyRing {
	if size < 1 {
		size = 1
	}
	return &latencyRing{samples: make([]float64, size)}
}

func (r *latencyRing) add(ms float64) {
	r.samples[r.next] = ms
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *latencyRing) count() int {
	if r.full {
		return len(r.samples)
	}
	return r.next
}

// sorted returns the current samples as a fresh ascending slice
func (r *latencyRing) sorted() []float64 {
	out := make([]float64, r.count())
	copy(out, r.samples[:r.count()])
	sort.Float64s(out)
	return out
}

func (r *latencyRing) reset() {
	r.next = 0
	r.full = false
}

// percentile uses nearest-rank indexing on an ascending sample slice:
// sorted[max(0, ceil(p/100 × len) − 1)]
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stats is a point-in-time copy of the watcher's rolling counters.
// Counters accumulate from process start and reset only on an explicit
// ResetStats call.
type Stats struct {
	TotalLines        int64            `json:"total_lines"`
	ErrorCount        int64            `json:"error_count"`
	WarnCount         int64            `json:"warn_count"`
	RequestCount      int64            `json:"request_count"`
	IntegrationCalls  map[string]int64 `json:"integration_calls,omitempty"`
	IntegrationErrors map[string]int64 `json:"integration_errors,omitempty"`
	LatencySamples    int              `json:"latency_samples"`
	P50LatencyMs      float64          `json:"p50_latency_ms"`
	P95LatencyMs      float64          `json:"p95_latency_ms"`
}

// ErrorRate returns errors per 100 requests, 0 when no requests have
// been seen
func (s Stats) ErrorRate() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.RequestCount) * 100
}

// IntegrationErrorRates returns per-integration errors per 100 calls.
// Integrations with recorded calls but no errors appear with rate 0;
// integrations never called are omitted.
func (s Stats) IntegrationErrorRates() map[string]float64 {
	if len(s.IntegrationCalls) == 0 {
		return nil
	}
	rates := make(map[string]float64, len(s.IntegrationCalls))
	for name, calls := range s.IntegrationCalls {
		if calls == 0 {
			continue
		}
		rates[name] = float64(s.IntegrationErrors[name]) / float64(calls) * 100
	}
	return rates
}
