// Package breaker implements a per-provider circuit breaker.
//
// Each provider name owns an independent state machine:
//
//	closed --(FailureThreshold consecutive failures)--> open
//	open --(RecoveryTimeout since last failure)--> half_open
//	half_open --(success)--> closed
//	half_open --(failure)--> open
//
// The open to half_open transition is lazy: it happens on the first call
// that observes the elapsed recovery window. Half-open admits at most
// HalfOpenMaxCalls trial calls, reserved through Acquire.
package breaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/personagen/internal/event"
	"go.uber.org/zap"
)

// State is the circuit state of one provider.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Snapshot is a point-in-time copy of one provider's circuit.
type Snapshot struct {
	Provider            string    `json:"provider"`
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	NextRetry           time.Time `json:"next_retry,omitzero"` // set only when open
	HalfOpenTrials      int       `json:"half_open_trials"`
	LastError           string    `json:"last_error,omitempty"`
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithPublisher publishes call outcomes and state changes to p.
func WithPublisher(p event.Publisher) Option {
	return func(b *Breaker) { b.bus = p }
}

// Breaker tracks circuits for any number of providers. Safe for concurrent
// use; each provider's circuit has its own lock.
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	bus    event.Publisher
	now    func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

type circuit struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trials      int
	window      uint64 // bumped on every entry to half-open
	lastErr     string
}

// Ticket is the grant returned by Acquire. It remembers which half-open
// window a trial slot was taken from, so Release cannot free a slot that
// belongs to a later window.
type Ticket struct {
	window uint64
	trial  bool
}

// New creates a breaker. Zero config fields take their defaults.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Config returns the effective thresholds.
func (b *Breaker) Config() Config { return b.cfg }

func (b *Breaker) get(name string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[name]
	if !ok {
		c = &circuit{}
		b.circuits[name] = c
	}
	return c
}

// advance moves an open circuit to half-open once the recovery window has
// elapsed. Caller holds c.mu. Reports whether a transition happened.
func (b *Breaker) advance(c *circuit, now time.Time) bool {
	if c.state == Open && !now.Before(c.lastFailure.Add(b.cfg.RecoveryTimeout)) {
		c.state = HalfOpen
		c.trials = 0
		c.window++
		return true
	}
	return false
}

// CanExecute reports whether a call to name may be attempted: the circuit
// is closed, or half-open with a free trial slot. It does not reserve the
// slot; see Acquire.
func (b *Breaker) CanExecute(name string) bool {
	c := b.get(name)
	c.mu.Lock()
	moved := b.advance(c, b.now())
	ok := c.state == Closed || (c.state == HalfOpen && c.trials < b.cfg.HalfOpenMaxCalls)
	c.mu.Unlock()

	if moved {
		b.transition(name, Open, HalfOpen)
	}
	return ok
}

// Acquire reserves permission for one call. Closed circuits always grant;
// half-open circuits grant until HalfOpenMaxCalls trials are outstanding or
// spent. Every granted call must be followed by RecordSuccess, RecordFailure
// or Release with the returned ticket.
func (b *Breaker) Acquire(name string) (Ticket, bool) {
	c := b.get(name)
	c.mu.Lock()
	moved := b.advance(c, b.now())
	var (
		t  Ticket
		ok bool
	)
	switch c.state {
	case Closed:
		ok = true
	case HalfOpen:
		if c.trials < b.cfg.HalfOpenMaxCalls {
			c.trials++
			t = Ticket{window: c.window, trial: true}
			ok = true
		}
	}
	c.mu.Unlock()

	if moved {
		b.transition(name, Open, HalfOpen)
	}
	return t, ok
}

// Release returns the slot behind t without recording an outcome, for
// calls abandoned by the caller rather than failed by the provider. Only a
// trial taken in the current half-open window is given back; anything else
// is a no-op.
func (b *Breaker) Release(name string, t Ticket) {
	c := b.get(name)
	c.mu.Lock()
	if t.trial && t.window == c.window && c.state == HalfOpen && c.trials > 0 {
		c.trials--
	}
	c.mu.Unlock()
}

// RecordSuccess closes a half-open circuit and clears the failure count.
// A success reported while open (a call admitted before the circuit opened)
// leaves the circuit open.
func (b *Breaker) RecordSuccess(name string) {
	c := b.get(name)
	c.mu.Lock()
	from := c.state
	if from != Open {
		c.state = Closed
		c.failures = 0
		c.trials = 0
		c.lastErr = ""
	}
	c.mu.Unlock()

	b.publish(event.Event{Topic: event.TopicCallSucceeded, Provider: name})
	if from == HalfOpen {
		b.transition(name, HalfOpen, Closed)
	}
}

// RecordFailure counts a failed call. It opens a closed circuit at the
// threshold, reopens a half-open circuit, and restarts the recovery window
// of an open one.
func (b *Breaker) RecordFailure(name string, err error) {
	c := b.get(name)
	c.mu.Lock()
	from := c.state
	c.failures++
	c.lastFailure = b.now()
	if err != nil {
		c.lastErr = err.Error()
	}
	switch from {
	case Closed:
		if c.failures >= b.cfg.FailureThreshold {
			c.state = Open
		}
	case HalfOpen:
		c.state = Open
		c.trials = 0
	}
	to := c.state
	failures := c.failures
	c.mu.Unlock()

	b.publish(event.Event{Topic: event.TopicCallFailed, Provider: name, Payload: err})
	if from != to {
		b.logger.Warn("circuit opened",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
		b.transition(name, from, to)
	}
}

// Snapshot returns the current state of name's circuit, applying any due
// open to half-open transition first.
func (b *Breaker) Snapshot(name string) Snapshot {
	c := b.get(name)
	c.mu.Lock()
	moved := b.advance(c, b.now())
	s := Snapshot{
		Provider:            name,
		State:               c.state,
		StateName:           c.state.String(),
		ConsecutiveFailures: c.failures,
		LastFailure:         c.lastFailure,
		HalfOpenTrials:      c.trials,
		LastError:           c.lastErr,
	}
	if c.state == Open {
		s.NextRetry = c.lastFailure.Add(b.cfg.RecoveryTimeout)
	}
	c.mu.Unlock()

	if moved {
		b.transition(name, Open, HalfOpen)
	}
	return s
}

// Snapshots returns every known circuit, sorted by provider name.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	names := make([]string, 0, len(b.circuits))
	for name := range b.circuits {
		names = append(names, name)
	}
	b.mu.Unlock()

	sort.Strings(names)
	out := make([]Snapshot, len(names))
	for i, name := range names {
		out[i] = b.Snapshot(name)
	}
	return out
}

// Reset forces name's circuit closed with no recorded failures.
func (b *Breaker) Reset(name string) {
	c := b.get(name)
	c.mu.Lock()
	from := c.state
	c.state = Closed
	c.failures = 0
	c.trials = 0
	c.lastFailure = time.Time{}
	c.lastErr = ""
	c.mu.Unlock()

	if from != Closed {
		b.transition(name, from, Closed)
	}
}

func (b *Breaker) transition(name string, from, to State) {
	b.logger.Info("circuit state changed",
		zap.String("provider", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	b.publish(event.Event{
		Topic:    event.TopicStateChanged,
		Provider: name,
		Payload:  event.StateChange{From: from.String(), To: to.String()},
	})
}

func (b *Breaker) publish(e event.Event) {
	if b.bus == nil {
		return
	}
	e.Source = "breaker"
	e.Timestamp = b.now()
	b.bus.Publish(context.Background(), e)
}
