package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sample is the outcome of one finished job.
type Sample struct {
	Kind    string
	Latency time.Duration
	Passed  bool
	// Code classifies a failure, e.g. an HTTP status. Ignored for passes.
	Code string
}

// Collector records job outcomes in a thread-safe manner.
type Collector struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	passed     int64
	failed     int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	kinds      map[string]*KindStats
	failures   map[string]map[string]int
}

// KindStats counts outcomes of one job kind.
type KindStats struct {
	Total  int64 `json:"total"`
	Passed int64 `json:"passed"`
	Failed int64 `json:"failed"`
}

// Stats represents aggregated metrics.
type Stats struct {
	Total       int64         `json:"total"`
	Passed      int64         `json:"passed"`
	Failed      int64         `json:"failed"`
	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`
	Duration    time.Duration `json:"-"`
	JobsPerSec  float64       `json:"jobs_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	DurationMs    float64 `json:"duration_ms"`

	Kinds          map[string]KindStats      `json:"kinds,omitempty"`
	FailureBuckets map[string]map[string]int `json:"failure_buckets,omitempty"`
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:     h,
		kinds:    make(map[string]*KindStats),
		failures: make(map[string]map[string]int),
	}
}

// Record adds one job outcome.
func (c *Collector) Record(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Latency > 0 {
		us := s.Latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += s.Latency

	if c.minLatency == 0 || s.Latency < c.minLatency {
		c.minLatency = s.Latency
	}
	if s.Latency > c.maxLatency {
		c.maxLatency = s.Latency
	}

	ks, ok := c.kinds[s.Kind]
	if !ok {
		ks = &KindStats{}
		c.kinds[s.Kind] = ks
	}
	ks.Total++

	if s.Passed {
		c.passed++
		ks.Passed++
		return
	}
	c.failed++
	ks.Failed++
	code := s.Code
	if code == "" {
		code = "failed"
	}
	if c.failures[s.Kind] == nil {
		c.failures[s.Kind] = make(map[string]int)
	}
	c.failures[s.Kind][code]++
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.passed + c.failed
	stats := Stats{
		Total:      total,
		Passed:     c.passed,
		Failed:     c.failed,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = millis(stats.MinLatency)
	stats.MaxLatencyMs = millis(stats.MaxLatency)
	stats.MeanLatencyMs = millis(stats.MeanLatency)
	stats.P50LatencyMs = millis(stats.P50Latency)
	stats.P90LatencyMs = millis(stats.P90Latency)
	stats.P99LatencyMs = millis(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = millis(elapsed)
	if elapsed > 0 && total > 0 {
		stats.JobsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.kinds) > 0 {
		stats.Kinds = make(map[string]KindStats, len(c.kinds))
		for k, v := range c.kinds {
			stats.Kinds[k] = *v
		}
	}
	if len(c.failures) > 0 {
		stats.FailureBuckets = make(map[string]map[string]int, len(c.failures))
		for kind, codes := range c.failures {
			cp := make(map[string]int, len(codes))
			for code, n := range codes {
				cp[code] = n
			}
			stats.FailureBuckets[kind] = cp
		}
	}

	return stats
}

// KindNames returns the recorded job kinds in sorted order.
func (s Stats) KindNames() []string {
	names := make([]string, 0, len(s.Kinds))
	for k := range s.Kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
