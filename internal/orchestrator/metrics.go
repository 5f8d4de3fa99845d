package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/personagen/pkg/llm"
)

// ProviderMetrics holds cumulative call counters for one provider.
type ProviderMetrics struct {
	Provider            string        `json:"provider"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	TokensUsed          int64         `json:"tokens_used"`
	EstimatedCost       float64       `json:"estimated_cost"`
	LastUsed            time.Time     `json:"last_used,omitzero"`
}

// OrchestratorMetrics is a point-in-time view of all counters.
type OrchestratorMetrics struct {
	Providers           []ProviderMetrics `json:"providers"`
	TotalRequests       int64             `json:"total_requests"`
	CacheHits           int64             `json:"cache_hits"`
	CacheMisses         int64             `json:"cache_misses"`
	CacheHitRate        float64           `json:"cache_hit_rate"`
	CacheEntries        int               `json:"cache_entries"`
	AverageResponseTime time.Duration     `json:"average_response_time"`
	TotalCost           float64           `json:"total_cost"`
	FallbackServed      int64             `json:"fallback_served"`
	Degraded            bool              `json:"degraded"`
}

// providerStats is the mutable counter set behind ProviderMetrics.
type providerStats struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	latency   time.Duration // sum over every attempt
	tokens    int64
	cost      float64
	lastUsed  time.Time
}

func (s *providerStats) success(latency time.Duration, usage llm.Usage, cost float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.succeeded++
	s.latency += latency
	s.tokens += int64(usage.TotalTokens)
	s.cost += cost
	s.lastUsed = at
}

func (s *providerStats) failure(latency time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
	s.latency += latency
	s.lastUsed = at
}

func (s *providerStats) snapshot(name string) ProviderMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := ProviderMetrics{
		Provider:           name,
		TotalRequests:      s.total,
		SuccessfulRequests: s.succeeded,
		FailedRequests:     s.failed,
		TokensUsed:         s.tokens,
		EstimatedCost:      s.cost,
		LastUsed:           s.lastUsed,
	}
	if s.total > 0 {
		m.AverageResponseTime = s.latency / time.Duration(s.total)
	}
	return m
}

// Metrics returns per-provider counters sorted by name, plus cache and
// aggregate figures.
func (o *Orchestrator) Metrics() OrchestratorMetrics {
	names := make([]string, 0, len(o.stats))
	for name := range o.stats {
		names = append(names, name)
	}
	sort.Strings(names)

	out := OrchestratorMetrics{
		Providers:      make([]ProviderMetrics, 0, len(names)),
		TotalRequests:  o.requests.Load(),
		FallbackServed: o.fallbackServed.Load(),
		Degraded:       o.degraded.Load(),
	}

	var latency time.Duration
	var attempts int64
	for _, name := range names {
		pm := o.stats[name].snapshot(name)
		out.Providers = append(out.Providers, pm)
		out.TotalCost += pm.EstimatedCost
		latency += pm.AverageResponseTime * time.Duration(pm.TotalRequests)
		attempts += pm.TotalRequests
	}
	if attempts > 0 {
		out.AverageResponseTime = latency / time.Duration(attempts)
	}

	if o.cache != nil {
		cs := o.cache.Stats()
		out.CacheHits = cs.Hits
		out.CacheMisses = cs.Misses
		out.CacheHitRate = cs.HitRate
		out.CacheEntries = cs.Entries
	}
	return out
}
