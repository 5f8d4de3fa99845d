// Package ws streams circuit transitions and provider call outcomes to
// WebSocket clients.
package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/personagen/internal/event"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Subscriber is the subscribing half of the event bus.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Compile-time interface guard.
var _ Subscriber = (*event.Bus)(nil)

// Handler serves GET /api/v1/ws/events.
type Handler struct {
	hub            *Hub
	originPatterns []string
	logger         *zap.Logger
	unsubscribe    []func()
}

// NewHandler creates a stream handler fed from bus. originPatterns are
// passed to the WebSocket origin check; empty means same-origin only.
func NewHandler(bus Subscriber, originPatterns []string, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:            NewHub(logger),
		originPatterns: originPatterns,
		logger:         logger,
	}
	if bus != nil {
		h.unsubscribe = []func(){
			bus.Subscribe(event.TopicStateChanged, h.onEvent),
			bus.Subscribe(event.TopicCallFailed, h.onEvent),
			bus.Subscribe(event.TopicCallSucceeded, h.onEvent),
		}
	}
	return h
}

// RegisterRoutes registers the stream route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// Hub returns the handler's client hub.
func (h *Handler) Hub() *Hub { return h.hub }

// Close detaches the handler from the bus.
func (h *Handler) Close() {
	for _, fn := range h.unsubscribe {
		fn()
	}
	h.unsubscribe = nil
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan Message, sendBuffer),
		logger: h.logger,
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// onEvent converts a bus event into a stream message.
func (h *Handler) onEvent(_ context.Context, e event.Event) {
	if msg, ok := toMessage(e); ok {
		h.hub.Broadcast(msg)
	}
}

func toMessage(e event.Event) (Message, bool) {
	msg := Message{Provider: e.Provider, Timestamp: e.Timestamp}
	switch e.Topic {
	case event.TopicStateChanged:
		sc, ok := e.Payload.(event.StateChange)
		if !ok {
			return Message{}, false
		}
		msg.Type = MessageCircuitChanged
		msg.Data = CircuitChangedData{From: sc.From, To: sc.To}
	case event.TopicCallFailed:
		msg.Type = MessageCallFailed
		if err, ok := e.Payload.(error); ok && err != nil {
			msg.Data = CallFailedData{Error: err.Error()}
		}
	case event.TopicCallSucceeded:
		msg.Type = MessageCallSucceeded
	default:
		return Message{}, false
	}
	return msg, true
}
