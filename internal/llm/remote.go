// Package llm holds plumbing shared by the remote provider adapters in
// internal/llm/{provider}: client-side rate limiting, call outcome tracking
// and health probe timing.
package llm

import (
	"context"
	"sync"
	"time"

	pkgllm "github.com/HerbHall/personagen/pkg/llm"
	"golang.org/x/time/rate"
)

// NewLimiter returns a token bucket admitting requestsPerMinute calls per
// minute with a burst of one tenth of that (at least 1). A non-positive
// rate returns nil, which Allow treats as unlimited.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := max(requestsPerMinute/10, 1)
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// Allow reports whether a call may proceed under l. A nil limiter always allows.
func Allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}

// RateLimited is the error adapters return when their local bucket is empty.
func RateLimited(provider string) error {
	return pkgllm.NewProviderError(provider, pkgllm.ErrCodeRateLimited, "client-side rate limit reached", nil)
}

// windowSize is the number of recent call outcomes kept for the error rate.
const windowSize = 50

// CallStats tracks a rolling window of call outcomes for error-rate reporting.
// Safe for concurrent use.
type CallStats struct {
	mu       sync.Mutex
	outcomes [windowSize]bool // true = failure
	next     int
	filled   int
}

// Record stores the outcome of one call.
func (s *CallStats) Record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[s.next] = err != nil
	s.next = (s.next + 1) % windowSize
	if s.filled < windowSize {
		s.filled++
	}
}

// ErrorRate returns the failure fraction over the recorded window, 0 when empty.
func (s *CallStats) ErrorRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filled == 0 {
		return 0
	}
	var failed int
	for i := 0; i < s.filled; i++ {
		if s.outcomes[i] {
			failed++
		}
	}
	return float64(failed) / float64(s.filled)
}

// Probe runs fn and converts its outcome into a health status with the
// measured latency. fn errors are reported in Message, never returned.
func Probe(ctx context.Context, stats *CallStats, fn func(ctx context.Context) error) pkgllm.HealthStatus {
	start := time.Now()
	err := fn(ctx)
	status := pkgllm.HealthStatus{
		Healthy: err == nil,
		Latency: time.Since(start),
	}
	if stats != nil {
		status.ErrorRate = stats.ErrorRate()
	}
	if err != nil {
		status.Message = err.Error()
	}
	return status
}
