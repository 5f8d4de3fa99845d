// Package event provides the in-memory bus that carries provider call
// outcomes and circuit transitions between orchestration components.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topics published by the circuit breaker.
const (
	TopicCallSucceeded = "provider.call.succeeded"
	TopicCallFailed    = "provider.call.failed"
	TopicStateChanged  = "provider.circuit.changed"
)

// Event is a single message on the bus.
type Event struct {
	Topic     string
	Source    string // component that published the event
	Provider  string
	Timestamp time.Time
	Payload   any
}

// StateChange is the payload of TopicStateChanged.
type StateChange struct {
	From string
	To   string
}

// Handler processes events from the bus.
type Handler func(ctx context.Context, e Event)

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Compile-time interface guard.
var _ Publisher = (*Bus)(nil)

// Bus is an in-memory event bus. Publish is synchronous: handlers run in
// the caller's goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // topic -> handlers
	allSubs  []handlerEntry
	nextID   uint64
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

// Publish dispatches e to every matching handler. A zero Timestamp is
// stamped with the current time.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]handlerEntry, 0, len(b.handlers[e.Topic])+len(b.allSubs))
	targets = append(targets, b.handlers[e.Topic]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.safeCall(ctx, h.handler, e)
	}
}

// Subscribe registers a handler for one topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = remove(b.handlers[topic], id)
	}
}

// SubscribeAll registers a handler for every topic. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = remove(b.allSubs, id)
	}
}

func remove(entries []handlerEntry, id uint64) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			out := make([]handlerEntry, 0, len(entries)-1)
			out = append(out, entries[:i]...)
			return append(out, entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.String("provider", e.Provider),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, e)
}
