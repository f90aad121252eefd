package llm

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the client.
const (
	OpGenerate = "generate"
	OpEmbed    = "embed"
)

type sample struct {
	timestamp  time.Time
	op         string
	durationMs int64
}

// StatsSnapshot is a point-in-time aggregate of latency samples.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// LLMStats tracks recent model call latencies per operation within a
// rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record adds one call duration for op.
func (s *LLMStats) Record(op string, durationMs int64) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		op:         op,
		durationMs: max(durationMs, 0),
	})
}

// Snapshot aggregates the live samples of every operation seen.
func (s *LLMStats) Snapshot() map[string]StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	byOp := make(map[string][]int64)
	s.pruneLocked(now)
	for _, sm := range s.samples {
		byOp[sm.op] = append(byOp[sm.op], sm.durationMs)
	}
	s.mu.Unlock()

	out := make(map[string]StatsSnapshot, len(byOp))
	for op, values := range byOp {
		out[op] = summarize(values)
	}
	return out
}

func summarize(values []int64) StatsSnapshot {
	if len(values) == 0 {
		return StatsSnapshot{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	var sum int64
	for _, v := range values {
		sum += v
	}
	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	keep := s.samples[:0]
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			keep = append(keep, sm)
		}
	}
	s.samples = keep
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	idx := float64(len(sorted)-1) * pct / 100
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*(idx-float64(lower))
}
