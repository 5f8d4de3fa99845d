package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/personagen/internal/event"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

func TestToMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name   string
		event  event.Event
		want   MessageType
		wantOK bool
	}{
		{
			name:   "state change",
			event:  event.Event{Topic: event.TopicStateChanged, Provider: "openai", Payload: event.StateChange{From: "closed", To: "open"}},
			want:   MessageCircuitChanged,
			wantOK: true,
		},
		{
			name:   "call failed",
			event:  event.Event{Topic: event.TopicCallFailed, Provider: "openai", Payload: errors.New("boom")},
			want:   MessageCallFailed,
			wantOK: true,
		},
		{
			name:   "call succeeded",
			event:  event.Event{Topic: event.TopicCallSucceeded, Provider: "openai"},
			want:   MessageCallSucceeded,
			wantOK: true,
		},
		{
			name:  "state change with wrong payload",
			event: event.Event{Topic: event.TopicStateChanged, Payload: "closed"},
		},
		{
			name:  "unknown topic",
			event: event.Event{Topic: "something.else"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.Timestamp = ts
			msg, ok := toMessage(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if msg.Type != tt.want {
				t.Errorf("Type = %q, want %q", msg.Type, tt.want)
			}
			if !msg.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %v, want %v", msg.Timestamp, ts)
			}
		})
	}
}

func TestHandler_StreamsBusEvents(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	h := NewHandler(bus, nil, zap.NewNop())
	defer h.Close()

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(2 * time.Second)
	for h.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(ctx, event.Event{
		Topic:    event.TopicStateChanged,
		Provider: "anthropic",
		Payload:  event.StateChange{From: "closed", To: "open"},
	})

	var got struct {
		Type     MessageType        `json:"type"`
		Provider string             `json:"provider"`
		Data     CircuitChangedData `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Type != MessageCircuitChanged {
		t.Errorf("Type = %q, want %q", got.Type, MessageCircuitChanged)
	}
	if got.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", got.Provider)
	}
	if got.Data.From != "closed" || got.Data.To != "open" {
		t.Errorf("Data = %+v, want closed -> open", got.Data)
	}
}

func TestHandler_CloseUnsubscribes(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	h := NewHandler(bus, nil, zap.NewNop())
	c := newTestClient("a")
	h.Hub().Register(c)

	h.Close()
	bus.Publish(context.Background(), event.Event{Topic: event.TopicCallSucceeded, Provider: "openai"})

	if got := len(c.send); got != 0 {
		t.Errorf("buffered = %d after Close, want 0", got)
	}
}
