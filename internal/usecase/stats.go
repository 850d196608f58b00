package usecase

import (
	"sync"
	"time"
)

// StatsSummary represents aggregated service counters since startup.
type StatsSummary struct {
	Backend            string  `json:"backend"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	CacheHits          int64   `json:"cache_hits"`
	InstancesDetected  int64   `json:"instances_detected"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// Stats accumulates per-request counters in memory. All methods are safe for
// concurrent use.
type Stats struct {
	mu           sync.Mutex
	started      time.Time
	total        int64
	success      int64
	failed       int64
	cacheHits    int64
	instances    int64
	totalLatency time.Duration
}

// NewStats creates a new counter set anchored at the current time.
func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

// RecordSuccess counts one completed analysis and its detections.
func (s *Stats) RecordSuccess(instances int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.success++
	s.instances += int64(instances)
	s.totalLatency += latency
}

// RecordCacheHit counts one analysis served from cache.
func (s *Stats) RecordCacheHit(instances int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.success++
	s.cacheHits++
	s.instances += int64(instances)
	s.totalLatency += latency
}

// RecordFailure counts one request that ended in an error.
func (s *Stats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
}

func (s *Stats) summarize() StatsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := StatsSummary{
		TotalRequests:      s.total,
		SuccessfulRequests: s.success,
		FailedRequests:     s.failed,
		CacheHits:          s.cacheHits,
		InstancesDetected:  s.instances,
		UptimeSeconds:      time.Since(s.started).Seconds(),
	}
	if s.total > 0 {
		summary.SuccessRate = float64(s.success) / float64(s.total)
	}
	if s.success > 0 {
		summary.AverageLatencyMs = s.totalLatency.Seconds() * 1000 / float64(s.success)
	}
	return summary
}

// GetStatsSummary aggregates service counters for the stats endpoint.
func (uc *AnalysisUseCase) GetStatsSummary() StatsSummary {
	summary := uc.stats.summarize()
	summary.Backend = uc.backend.Name()
	return summary
}
