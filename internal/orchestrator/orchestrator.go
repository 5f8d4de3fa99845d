// Package orchestrator routes generation requests across providers. It
// consults the response cache, skips providers whose circuit is open, tries
// the rest in priority order and falls back to the local generator, so a
// valid request is always answered while at least one provider is local.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/HerbHall/personagen/internal/breaker"
	"github.com/HerbHall/personagen/internal/cache"
	"github.com/HerbHall/personagen/internal/event"
	"github.com/HerbHall/personagen/internal/health"
	"github.com/HerbHall/personagen/internal/ledger"
	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds orchestrator settings.
type Config struct {
	CallTimeout      time.Duration            `mapstructure:"call_timeout"`
	ProviderTimeouts map[string]time.Duration `mapstructure:"provider_timeouts"`
	Cache            cache.Config             `mapstructure:"cache"`
	Breaker          breaker.Config           `mapstructure:"breaker"`
	Health           health.Config            `mapstructure:"health"`
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 30 * time.Second,
		Cache:       cache.DefaultConfig(),
		Breaker:     breaker.DefaultConfig(),
		Health:      health.DefaultConfig(),
	}
}

// AttemptRecorder persists one row per provider attempt. *ledger.Ledger
// satisfies it.
type AttemptRecorder interface {
	Record(ctx context.Context, a ledger.Attempt) error
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	bus         *event.Bus
	recorder    AttemptRecorder
	moderator   Moderator
	registerer  prometheus.Registerer
	breakerOpts []breaker.Option
	now         func() time.Time
}

// WithBus shares bus with other components. By default the orchestrator
// creates a private bus.
func WithBus(bus *event.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithRecorder records every provider attempt to r.
func WithRecorder(r AttemptRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithModerator runs m on every generated response before it is returned.
func WithModerator(m Moderator) Option {
	return func(o *options) { o.moderator = m }
}

// WithRegisterer registers the Prometheus collectors on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithBreakerOptions passes extra options to the circuit breaker.
func WithBreakerOptions(opts ...breaker.Option) Option {
	return func(o *options) { o.breakerOpts = append(o.breakerOpts, opts...) }
}

// WithClock replaces time.Now for processing-time measurement.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Orchestrator serves generation requests. Safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	providers []llm.Provider // sorted by priority, then name
	hasRemote bool

	breaker   *breaker.Breaker
	monitor   *health.Monitor
	cache     *cache.Cache // nil when caching is disabled
	bus       *event.Bus
	recorder  AttemptRecorder
	moderator Moderator
	prom      *collectors

	stats          map[string]*providerStats // keys fixed at construction
	requests       atomic.Int64
	fallbackServed atomic.Int64
	degraded       atomic.Bool

	unsubscribe []func()
}

// New creates an orchestrator over providers. Provider names must be unique.
func New(providers []llm.Provider, cfg Config, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bus == nil {
		o.bus = event.NewBus(logger.Named("bus"))
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	orc := &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		now:       o.now,
		providers: append([]llm.Provider(nil), providers...),
		bus:       o.bus,
		recorder:  o.recorder,
		moderator: o.moderator,
		stats:     make(map[string]*providerStats, len(providers)),
	}
	health.SortByPriority(orc.providers)

	for _, p := range orc.providers {
		name := p.Name()
		if _, dup := orc.stats[name]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", name)
		}
		orc.stats[name] = &providerStats{}
		if !p.Capabilities().Local {
			orc.hasRemote = true
		}
	}

	brOpts := append([]breaker.Option{breaker.WithPublisher(o.bus)}, o.breakerOpts...)
	orc.breaker = breaker.New(cfg.Breaker, logger.Named("breaker"), brOpts...)
	orc.monitor = health.NewMonitor(orc.providers, orc.breaker, cfg.Health, logger.Named("health"))
	orc.prom = newCollectors(o.registerer)
	orc.unsubscribe = append(orc.unsubscribe,
		orc.monitor.Subscribe(o.bus),
		orc.prom.watchCircuits(o.bus, orc.breaker),
	)

	if cfg.Cache.Enabled {
		maxEntries := cfg.Cache.MaxEntries
		if maxEntries <= 0 {
			maxEntries = cache.DefaultConfig().MaxEntries
		}
		orc.cache = cache.New(maxEntries)
	}
	return orc, nil
}

// Breaker returns the circuit breaker shared by all requests.
func (o *Orchestrator) Breaker() *breaker.Breaker { return o.breaker }

// Monitor returns the health monitor.
func (o *Orchestrator) Monitor() *health.Monitor { return o.monitor }

// Start launches the background health loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.monitor.Start(ctx)
}

// Stop halts the health loop and detaches from the event bus. Safe to call
// more than once.
func (o *Orchestrator) Stop() {
	o.monitor.Stop()
	for _, u := range o.unsubscribe {
		u()
	}
	o.unsubscribe = nil
}

// GenerateResponse answers req from the cache or from the first provider
// that succeeds. Provider failures are absorbed; the caller sees an error
// only when the request is invalid, when no provider can be tried, or when
// every candidate failed.
func (o *Orchestrator) GenerateResponse(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResponse, error) {
	start := o.now()
	if err := llm.Validate(req); err != nil {
		return nil, err
	}
	o.requests.Add(1)
	requestID := uuid.NewString()

	var key string
	if o.cache != nil {
		key = cache.GenerateCacheKey(req)
		if resp, ok := o.cache.Get(key); ok {
			o.prom.cacheLookups.WithLabelValues("hit").Inc()
			resp.Cached = true
			resp.RequestID = requestID
			resp.ProcessingTime = o.now().Sub(start)
			o.logger.Debug("cache hit",
				zap.String("request_id", requestID),
				zap.String("provider", resp.Provider),
			)
			return resp, nil
		}
		o.prom.cacheLookups.WithLabelValues("miss").Inc()
	}

	candidates := o.candidates()
	if len(candidates) == 0 {
		o.logger.Warn("no healthy providers", zap.String("request_id", requestID))
		return nil, ErrNoHealthyProviders
	}

	var (
		attempted []string
		lastErr   error
	)
	for _, p := range candidates {
		name := p.Name()
		local := p.Capabilities().Local

		callCtx := ctx
		if ctx.Err() != nil {
			if !local {
				continue
			}
			// The fallback does no I/O; give the caller something rather
			// than nothing.
			callCtx = context.Background()
		}
		var ticket breaker.Ticket
		if !local {
			t, ok := o.breaker.Acquire(name)
			if !ok {
				o.logger.Debug("trial slot taken, skipping provider",
					zap.String("request_id", requestID),
					zap.String("provider", name),
				)
				continue
			}
			ticket = t
		}

		attempted = append(attempted, name)
		callStart := o.now()
		resp, err := o.call(callCtx, p, req)
		latency := o.now().Sub(callStart)

		if err != nil {
			o.onFailure(ctx, p, local, ticket, requestID, latency, err)
			lastErr = err
			continue
		}

		o.onSuccess(ctx, p, local, req, requestID, latency, resp)
		if o.cache != nil && !local {
			o.cache.Set(key, resp, o.cfg.Cache.TTL)
		}
		resp.ProcessingTime = o.now().Sub(start)
		return resp, nil
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	o.logger.Error("all providers failed",
		zap.String("request_id", requestID),
		zap.Strings("attempted", attempted),
		zap.Error(lastErr),
	)
	return nil, &AllProvidersFailedError{Attempted: attempted, Last: lastErr}
}

// candidates returns the providers worth trying, in priority order. Local
// providers are never excluded.
func (o *Orchestrator) candidates() []llm.Provider {
	out := make([]llm.Provider, 0, len(o.providers))
	for _, p := range o.providers {
		if p.Capabilities().Local || o.breaker.CanExecute(p.Name()) {
			out = append(out, p)
		}
	}
	return out
}

func (o *Orchestrator) timeoutFor(name string) time.Duration {
	if d, ok := o.cfg.ProviderTimeouts[name]; ok && d > 0 {
		return d
	}
	return o.cfg.CallTimeout
}

// call runs one provider attempt under the provider's call timeout. Panics
// and empty responses are reported as unavailable.
func (o *Orchestrator) call(ctx context.Context, p llm.Provider, req *llm.GenerationRequest) (resp *llm.GenerationResponse, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeoutFor(p.Name()))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("provider panicked",
				zap.String("provider", p.Name()),
				zap.Any("panic", r),
			)
			resp = nil
			err = llm.NewProviderError(p.Name(), llm.ErrCodeUnavailable, fmt.Sprintf("provider panicked: %v", r), nil)
		}
	}()

	resp, err = p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeUnavailable, "empty response", nil)
	}
	return resp, nil
}

func (o *Orchestrator) onSuccess(ctx context.Context, p llm.Provider, local bool, req *llm.GenerationRequest,
	requestID string, latency time.Duration, resp *llm.GenerationResponse,
) {
	name := p.Name()
	caps := p.Capabilities()
	if !local {
		o.breaker.RecordSuccess(name)
	}

	if resp.Provider == "" {
		resp.Provider = name
	}
	resp.RequestID = requestID
	resp.Cached = false
	cost := caps.EstimateCost(resp.Usage)

	o.stats[name].success(latency, resp.Usage, cost, o.now())
	o.prom.attempts.WithLabelValues(name, "success").Inc()
	o.prom.latency.WithLabelValues(name).Observe(latency.Seconds())

	if local {
		o.fallbackServed.Add(1)
		o.prom.fallbacks.Inc()
		o.degraded.Store(o.hasRemote)
	} else {
		o.degraded.Store(false)
	}

	o.record(ctx, ledger.Attempt{
		RequestID:    requestID,
		Provider:     name,
		Model:        resp.Model,
		Success:      true,
		LatencyMs:    float64(latency.Microseconds()) / 1000,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Cost:         cost,
	})

	if o.moderator != nil {
		safety, err := o.moderator.Moderate(context.WithoutCancel(ctx), req, resp)
		if err != nil {
			o.logger.Warn("moderation failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		} else {
			resp.Safety = safety
		}
	}

	o.logger.Debug("generation served",
		zap.String("request_id", requestID),
		zap.String("provider", name),
		zap.Duration("latency", latency),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
}

func (o *Orchestrator) onFailure(ctx context.Context, p llm.Provider, local bool, ticket breaker.Ticket,
	requestID string, latency time.Duration, err error,
) {
	name := p.Name()
	outcome := "failure"
	switch {
	case local:
	case ctx.Err() != nil:
		// Abandoned by the caller; says nothing about the provider.
		o.breaker.Release(name, ticket)
		outcome = "abandoned"
	default:
		o.breaker.RecordFailure(name, err)
	}

	o.stats[name].failure(latency, o.now())
	o.prom.attempts.WithLabelValues(name, outcome).Inc()
	o.prom.latency.WithLabelValues(name).Observe(latency.Seconds())

	o.record(ctx, ledger.Attempt{
		RequestID:    requestID,
		Provider:     name,
		ErrorKind:    llm.KindOf(err),
		ErrorMessage: err.Error(),
		LatencyMs:    float64(latency.Microseconds()) / 1000,
	})

	o.logger.Warn("provider attempt failed",
		zap.String("request_id", requestID),
		zap.String("provider", name),
		zap.String("kind", llm.KindOf(err)),
		zap.Duration("latency", latency),
		zap.Error(err),
	)
}

func (o *Orchestrator) record(ctx context.Context, a ledger.Attempt) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), a); err != nil {
		o.logger.Warn("record attempt",
			zap.String("request_id", a.RequestID),
			zap.String("provider", a.Provider),
			zap.Error(err),
		)
	}
}

// ProviderHealthReports returns the health, circuit and capabilities of every
// provider, sorted by priority.
func (o *Orchestrator) ProviderHealthReports() []health.ProviderHealthReport {
	return o.monitor.Reports()
}

// HealthSummary returns the aggregate provider status.
func (o *Orchestrator) HealthSummary() health.Summary {
	return o.monitor.Summary()
}

// CheckHealth probes every provider now and returns the refreshed reports.
func (o *Orchestrator) CheckHealth(ctx context.Context) []health.ProviderHealthReport {
	return o.monitor.CheckAll(ctx)
}

// InvalidateProvider drops every cached response produced by name and
// returns how many were removed.
func (o *Orchestrator) InvalidateProvider(name string) int {
	if o.cache == nil {
		return 0
	}
	n := o.cache.InvalidateByProvider(name)
	o.logger.Info("cache invalidated for provider", zap.String("provider", name), zap.Int("removed", n))
	return n
}

// ClearCache empties the response cache.
func (o *Orchestrator) ClearCache() {
	if o.cache == nil {
		return
	}
	o.cache.Clear()
	o.logger.Info("cache cleared")
}

// ResetCircuit forces name's circuit closed.
func (o *Orchestrator) ResetCircuit(name string) error {
	if _, ok := o.stats[name]; !ok {
		return health.ErrUnknownProvider
	}
	o.breaker.Reset(name)
	return nil
}
