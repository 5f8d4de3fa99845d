package orchestrator

import (
	"context"

	"github.com/HerbHall/personagen/internal/breaker"
	"github.com/HerbHall/personagen/internal/event"
	"github.com/prometheus/client_golang/prometheus"
)

// collectors are the Prometheus series exported by one orchestrator.
type collectors struct {
	attempts     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
	fallbacks    prometheus.Counter
}

func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personagen_provider_attempts_total",
				Help: "Provider generation attempts by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "personagen_provider_latency_seconds",
				Help:    "Provider generation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personagen_cache_lookups_total",
				Help: "Response cache lookups by result.",
			},
			[]string{"result"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "personagen_circuit_state",
				Help: "Circuit state per provider (0 closed, 1 open, 2 half-open).",
			},
			[]string{"provider"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "personagen_fallback_served_total",
				Help: "Responses served by the local fallback provider.",
			},
		),
	}
	reg.MustRegister(c.attempts, c.latency, c.cacheLookups, c.circuitState, c.fallbacks)
	return c
}

// watchCircuits refreshes the circuit gauge whenever br announces a state
// change. The gauge is read from br itself, since a transition event can
// arrive after a newer one has already been handled.
func (c *collectors) watchCircuits(bus *event.Bus, br *breaker.Breaker) (unsubscribe func()) {
	return bus.Subscribe(event.TopicStateChanged, func(_ context.Context, e event.Event) {
		if _, ok := e.Payload.(event.StateChange); !ok {
			return
		}
		c.circuitState.WithLabelValues(e.Provider).Set(float64(br.Snapshot(e.Provider).State))
	})
}
