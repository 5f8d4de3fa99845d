// Package health tracks provider health from periodic probes and live call
// outcomes, and merges it with circuit breaker state into reports.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/personagen/internal/breaker"
	"github.com/HerbHall/personagen/internal/event"
	"github.com/HerbHall/personagen/pkg/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownProvider is returned for a provider name the monitor does not track.
var ErrUnknownProvider = errors.New("unknown provider")

// outcomeWindow is the number of recent outcomes behind ErrorRate.
const outcomeWindow = 20

// Overall statuses reported by Summary.
const (
	StatusHealthy  = "healthy"
	StatusPartial  = "partial"
	StatusDegraded = "degraded"
)

// Config holds monitor timing.
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// DefaultConfig returns the default monitor timing.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// ProviderHealth is the tracked health of one provider.
type ProviderHealth struct {
	Healthy             bool          `json:"healthy"`
	Latency             time.Duration `json:"latency"`
	ErrorRate           float64       `json:"error_rate"`
	LastCheck           time.Time     `json:"last_check,omitzero"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Message             string        `json:"message,omitempty"`
}

// ProviderHealthReport merges probe results, circuit state and capabilities.
type ProviderHealthReport struct {
	Provider     string           `json:"provider"`
	Priority     int              `json:"priority"`
	Usable       bool             `json:"usable"`
	Health       ProviderHealth   `json:"health"`
	Circuit      breaker.Snapshot `json:"circuit"`
	Capabilities llm.Capabilities `json:"capabilities"`
}

// Summary is the aggregate view across providers.
type Summary struct {
	Status       string    `json:"status"`
	Providers    int       `json:"providers"`
	Healthy      int       `json:"healthy"`
	RemoteUsable int       `json:"remote_usable"`
	RemoteTotal  int       `json:"remote_total"`
	OpenCircuits int       `json:"open_circuits"`
	LastSweep    time.Time `json:"last_sweep,omitzero"`
}

type tracked struct {
	ProviderHealth
	outcomes [outcomeWindow]bool // true = failure
	next     int
	filled   int
}

func (t *tracked) record(failed bool) {
	t.outcomes[t.next] = failed
	t.next = (t.next + 1) % outcomeWindow
	if t.filled < outcomeWindow {
		t.filled++
	}
	var n int
	for i := 0; i < t.filled; i++ {
		if t.outcomes[i] {
			n++
		}
	}
	t.ErrorRate = float64(n) / float64(t.filled)
	if failed {
		t.ConsecutiveFailures++
	} else {
		t.ConsecutiveFailures = 0
	}
}

// Monitor probes providers on an interval and on demand.
type Monitor struct {
	providers []llm.Provider // sorted by priority, then name
	byName    map[string]llm.Provider
	breaker   *breaker.Breaker
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	state     map[string]*tracked
	lastSweep time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor for providers. Providers start healthy until
// the first probe says otherwise.
func NewMonitor(providers []llm.Provider, br *breaker.Breaker, cfg Config, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sorted := append([]llm.Provider(nil), providers...)
	SortByPriority(sorted)

	m := &Monitor{
		providers: sorted,
		byName:    make(map[string]llm.Provider, len(sorted)),
		breaker:   br,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		state:     make(map[string]*tracked, len(sorted)),
	}
	for _, p := range sorted {
		m.byName[p.Name()] = p
		m.state[p.Name()] = &tracked{ProviderHealth: ProviderHealth{Healthy: true}}
	}
	return m
}

// SortByPriority orders providers ascending by priority, ties by name.
func SortByPriority(ps []llm.Provider) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Priority() != ps[j].Priority() {
			return ps[i].Priority() < ps[j].Priority()
		}
		return ps[i].Name() < ps[j].Name()
	})
}

// Subscribe keeps call-outcome counters current from breaker events on bus.
// Returns a function that removes the subscriptions.
func (m *Monitor) Subscribe(bus *event.Bus) (unsubscribe func()) {
	u1 := bus.Subscribe(event.TopicCallSucceeded, func(_ context.Context, e event.Event) {
		m.observeCall(e.Provider, nil)
	})
	u2 := bus.Subscribe(event.TopicCallFailed, func(_ context.Context, e event.Event) {
		err, _ := e.Payload.(error)
		if err == nil {
			err = errors.New("call failed")
		}
		m.observeCall(e.Provider, err)
	})
	u3 := bus.Subscribe(event.TopicStateChanged, func(_ context.Context, e event.Event) {
		if sc, ok := e.Payload.(event.StateChange); ok && sc.To == breaker.Open.String() {
			m.markUnhealthy(e.Provider, "circuit open")
		}
	})
	return func() { u1(); u2(); u3() }
}

func (m *Monitor) observeCall(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state[name]
	if !ok {
		return
	}
	t.record(err != nil)
	if err == nil {
		t.Healthy = true
		t.Message = ""
	} else {
		t.Message = err.Error()
	}
}

func (m *Monitor) markUnhealthy(name, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.state[name]; ok {
		t.Healthy = false
		t.Message = msg
	}
}

// Start launches the background probe loop: one sweep immediately, then one
// per interval. Calling Start on a running monitor is a no-op. The loop also
// ends when ctx is cancelled, after which Start may be called again.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		defer m.finish(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.CheckAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.Interval))
}

// finish clears the run state of the loop that owns done, unless a later
// Start has already replaced it.
func (m *Monitor) finish(done chan struct{}) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != done {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
	m.logger.Info("health monitor stopped")
}

// Stop halts the probe loop and waits for an in-flight sweep to finish.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the probe loop is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

// CheckAll probes every provider concurrently and returns fresh reports.
func (m *Monitor) CheckAll(ctx context.Context) []ProviderHealthReport {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.providers {
		g.Go(func() error {
			m.probe(gctx, p)
			return nil
		})
	}
	_ = g.Wait() // probes never fail

	m.mu.Lock()
	m.lastSweep = m.now()
	m.mu.Unlock()
	return m.Reports()
}

// CheckProvider probes one provider on demand.
func (m *Monitor) CheckProvider(ctx context.Context, name string) (ProviderHealth, error) {
	p, ok := m.byName[name]
	if !ok {
		return ProviderHealth{}, fmt.Errorf("check %q: %w", name, ErrUnknownProvider)
	}
	return m.probe(ctx, p), nil
}

func (m *Monitor) probe(ctx context.Context, p llm.Provider) ProviderHealth {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	status := safeCheck(ctx, p)

	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.state[p.Name()]
	t.record(!status.Healthy)
	t.Healthy = status.Healthy
	t.Latency = status.Latency
	t.Message = status.Message
	t.LastCheck = m.now()

	if !status.Healthy {
		m.logger.Warn("provider health check failed",
			zap.String("provider", p.Name()),
			zap.Int("consecutive_failures", t.ConsecutiveFailures),
			zap.String("message", status.Message),
		)
	}
	return t.ProviderHealth
}

// safeCheck converts a panicking probe into an unhealthy status.
func safeCheck(ctx context.Context, p llm.Provider) (status llm.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			status = llm.HealthStatus{Healthy: false, Message: fmt.Sprintf("health check panicked: %v", r)}
		}
	}()
	return p.CheckHealth(ctx)
}

// Health returns the tracked health of name.
func (m *Monitor) Health(name string) (ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.state[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return t.ProviderHealth, true
}

// Reports returns one report per provider, sorted by priority.
func (m *Monitor) Reports() []ProviderHealthReport {
	out := make([]ProviderHealthReport, 0, len(m.providers))
	for _, p := range m.providers {
		caps := p.Capabilities()
		r := ProviderHealthReport{
			Provider:     p.Name(),
			Priority:     p.Priority(),
			Capabilities: caps,
		}
		r.Health, _ = m.Health(p.Name())
		if m.breaker != nil && !caps.Local {
			r.Circuit = m.breaker.Snapshot(p.Name())
			r.Usable = m.breaker.CanExecute(p.Name())
		} else {
			r.Circuit = breaker.Snapshot{Provider: p.Name(), State: breaker.Closed, StateName: breaker.Closed.String()}
			r.Usable = true
		}
		out = append(out, r)
	}
	return out
}

// Summary aggregates the reports into an overall status: healthy when every
// remote provider is usable and healthy, degraded when none is usable, and
// partial otherwise.
func (m *Monitor) Summary() Summary {
	reports := m.Reports()
	s := Summary{Providers: len(reports)}
	for _, r := range reports {
		if r.Health.Healthy {
			s.Healthy++
		}
		if r.Circuit.State == breaker.Open {
			s.OpenCircuits++
		}
		if r.Capabilities.Local {
			continue
		}
		s.RemoteTotal++
		if r.Usable {
			s.RemoteUsable++
		}
	}

	allGood := s.RemoteUsable == s.RemoteTotal && s.Healthy == s.Providers
	switch {
	case s.RemoteUsable == 0:
		s.Status = StatusDegraded
	case allGood:
		s.Status = StatusHealthy
	default:
		s.Status = StatusPartial
	}

	m.mu.RLock()
	s.LastSweep = m.lastSweep
	m.mu.RUnlock()
	return s
}
