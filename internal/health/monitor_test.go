package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/personagen/internal/breaker"
	"github.com/HerbHall/personagen/internal/event"
	"github.com/HerbHall/personagen/pkg/llm"
	"go.uber.org/zap"
)

type stubProvider struct {
	name     string
	priority int
	local    bool
	healthy  atomic.Bool
	checks   atomic.Int32
	panics   bool
}

func newStub(name string, priority int, healthy bool) *stubProvider {
	s := &stubProvider{name: name, priority: priority}
	s.healthy.Store(healthy)
	return s
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Priority() int { return s.priority }
func (s *stubProvider) Generate(context.Context, *llm.GenerationRequest) (*llm.GenerationResponse, error) {
	return nil, errors.New("not used")
}
func (s *stubProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{MaxTokens: 100, Local: s.local}
}
func (s *stubProvider) CheckHealth(context.Context) llm.HealthStatus {
	s.checks.Add(1)
	if s.panics {
		panic("probe exploded")
	}
	if s.healthy.Load() {
		return llm.HealthStatus{Healthy: true, Latency: 5 * time.Millisecond}
	}
	return llm.HealthStatus{Healthy: false, Message: "down"}
}

func newTestMonitor(t *testing.T, br *breaker.Breaker, ps ...llm.Provider) *Monitor {
	t.Helper()
	if br == nil {
		br = breaker.New(breaker.DefaultConfig(), zap.NewNop())
	}
	return NewMonitor(ps, br, Config{Interval: 10 * time.Millisecond, ProbeTimeout: time.Second}, zap.NewNop())
}

func TestCheckAll_RecordsProbeResults(t *testing.T) {
	up := newStub("openai", 1, true)
	down := newStub("anthropic", 2, false)
	m := newTestMonitor(t, nil, up, down)

	reports := m.CheckAll(context.Background())
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2", len(reports))
	}
	if reports[0].Provider != "openai" || !reports[0].Health.Healthy {
		t.Errorf("reports[0] = %+v", reports[0])
	}
	if reports[0].Health.Latency != 5*time.Millisecond || reports[0].Health.LastCheck.IsZero() {
		t.Errorf("probe details not recorded: %+v", reports[0].Health)
	}
	if reports[1].Health.Healthy || reports[1].Health.ConsecutiveFailures != 1 || reports[1].Health.Message != "down" {
		t.Errorf("reports[1] = %+v", reports[1].Health)
	}
}

func TestConsecutiveFailures_ResetOnSuccess(t *testing.T) {
	p := newStub("openai", 1, false)
	m := newTestMonitor(t, nil, p)

	for i := 1; i <= 3; i++ {
		h, err := m.CheckProvider(context.Background(), "openai")
		if err != nil {
			t.Fatal(err)
		}
		if h.ConsecutiveFailures != i {
			t.Fatalf("ConsecutiveFailures = %d, want %d", h.ConsecutiveFailures, i)
		}
	}
	p.healthy.Store(true)
	h, _ := m.CheckProvider(context.Background(), "openai")
	if h.ConsecutiveFailures != 0 || !h.Healthy {
		t.Errorf("after success: %+v", h)
	}
	if h.ErrorRate != 0.75 {
		t.Errorf("ErrorRate = %v, want 0.75", h.ErrorRate)
	}
}

func TestCheckProvider_Unknown(t *testing.T) {
	m := newTestMonitor(t, nil, newStub("openai", 1, true))
	if _, err := m.CheckProvider(context.Background(), "nope"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("CheckProvider(unknown) error = %v", err)
	}
}

func TestProbe_PanicIsUnhealthy(t *testing.T) {
	p := newStub("openai", 1, true)
	p.panics = true
	m := newTestMonitor(t, nil, p)

	h, err := m.CheckProvider(context.Background(), "openai")
	if err != nil {
		t.Fatal(err)
	}
	if h.Healthy {
		t.Error("panicking probe should be reported unhealthy")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	p := newStub("openai", 1, true)
	m := newTestMonitor(t, nil, p)

	m.Stop() // stopping a never-started monitor is a no-op
	m.Start(context.Background())
	m.Start(context.Background())
	if !m.Running() {
		t.Fatal("monitor should be running")
	}

	deadline := time.After(2 * time.Second)
	for p.checks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d probes ran", p.checks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Stop()
	m.Stop()
	if m.Running() {
		t.Fatal("monitor should be stopped")
	}
	after := p.checks.Load()
	time.Sleep(30 * time.Millisecond)
	if p.checks.Load() != after {
		t.Error("probes continued after Stop")
	}

	// Restart after stop works.
	m.Start(context.Background())
	defer m.Stop()
	if !m.Running() {
		t.Error("monitor should restart")
	}
}

func TestStart_ParentCancelStopsLoop(t *testing.T) {
	p := newStub("openai", 1, true)
	m := newTestMonitor(t, nil, p)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	m.Stop() // must not hang once the loop has exited
}

func TestStart_ParentCancelClearsRunState(t *testing.T) {
	p := newStub("openai", 1, true)
	m := newTestMonitor(t, nil, p)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for m.Running() {
		select {
		case <-deadline:
			t.Fatal("monitor still reports running after its context ended")
		case <-time.After(5 * time.Millisecond):
		}
	}

	before := p.checks.Load()
	m.Start(context.Background())
	defer m.Stop()
	if !m.Running() {
		t.Fatal("Start after the loop exited should run again")
	}
	deadline = time.After(2 * time.Second)
	for p.checks.Load() == before {
		select {
		case <-deadline:
			t.Fatal("restarted loop never probed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubscribe_TracksCallOutcomes(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	br := breaker.New(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, zap.NewNop(), breaker.WithPublisher(bus))
	m := newTestMonitor(t, br, newStub("openai", 1, true))
	unsub := m.Subscribe(bus)
	defer unsub()

	br.RecordFailure("openai", errors.New("timeout"))
	h, _ := m.Health("openai")
	if h.ConsecutiveFailures != 1 || h.Message != "timeout" {
		t.Errorf("after one failure: %+v", h)
	}

	br.RecordFailure("openai", errors.New("timeout"))
	h, _ = m.Health("openai")
	if h.Healthy {
		t.Error("opening the circuit should mark the provider unhealthy")
	}
	if h.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", h.ConsecutiveFailures)
	}

	br.Reset("openai")
	br.RecordSuccess("openai")
	h, _ = m.Health("openai")
	if h.ConsecutiveFailures != 0 || !h.Healthy {
		t.Errorf("after success: %+v", h)
	}
	if h.ErrorRate < 0.66 || h.ErrorRate > 0.67 {
		t.Errorf("ErrorRate = %v, want 2/3", h.ErrorRate)
	}
}

func TestReports_MergeCircuitState(t *testing.T) {
	br := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, zap.NewNop())
	remote := newStub("openai", 1, true)
	local := newStub("fallback", 1000, true)
	local.local = true
	m := newTestMonitor(t, br, local, remote)

	br.RecordFailure("openai", errors.New("boom"))
	reports := m.Reports()
	if reports[0].Provider != "openai" || reports[1].Provider != "fallback" {
		t.Fatalf("reports not sorted by priority: %+v", reports)
	}
	if reports[0].Usable || reports[0].Circuit.State != breaker.Open {
		t.Errorf("openai report = %+v", reports[0])
	}
	if !reports[1].Usable || reports[1].Circuit.StateName != "closed" {
		t.Errorf("fallback report = %+v", reports[1])
	}
}

func TestSummary(t *testing.T) {
	br := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, zap.NewNop())
	a := newStub("openai", 1, true)
	b := newStub("anthropic", 2, true)
	fb := newStub("fallback", 1000, true)
	fb.local = true
	m := newTestMonitor(t, br, a, b, fb)

	if s := m.Summary(); s.Status != StatusHealthy || s.RemoteTotal != 2 || s.RemoteUsable != 2 {
		t.Errorf("Summary() = %+v, want healthy", s)
	}

	br.RecordFailure("openai", errors.New("x"))
	if s := m.Summary(); s.Status != StatusPartial || s.OpenCircuits != 1 {
		t.Errorf("Summary() = %+v, want partial", s)
	}

	br.RecordFailure("anthropic", errors.New("x"))
	if s := m.Summary(); s.Status != StatusDegraded || s.RemoteUsable != 0 {
		t.Errorf("Summary() = %+v, want degraded", s)
	}
}

func TestSummary_FallbackOnlyIsDegraded(t *testing.T) {
	fb := newStub("fallback", 1000, true)
	fb.local = true
	m := newTestMonitor(t, nil, fb)
	if s := m.Summary(); s.Status != StatusDegraded {
		t.Errorf("Summary().Status = %q, want degraded", s.Status)
	}
}
