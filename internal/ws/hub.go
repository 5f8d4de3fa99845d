package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Client is one connected stream subscriber.
type Client struct {
	conn   *websocket.Conn
	remote string
	send   chan Message
	logger *zap.Logger
}

// Hub tracks connected clients and fans messages out to them. Delivery is
// best effort: a client with a full buffer misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped map[*Client]int
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		dropped: make(map[*Client]int),
		logger:  logger,
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", zap.String("remote", c.remote), zap.Int("clients", n))
}

// Unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	missed := h.dropped[c]
	delete(h.dropped, c)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("stream client disconnected",
			zap.String("remote", c.remote),
			zap.Int("missed", missed),
		)
	}
}

// Broadcast queues msg for every client and returns how many accepted it.
func (h *Hub) Broadcast(msg Message) int {
	// Write lock: the drop counters are updated in place.
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.dropped[c]++
		}
	}
	if skipped := len(h.clients) - delivered; skipped > 0 {
		h.logger.Warn("stream buffers full, message dropped",
			zap.String("type", string(msg.Type)),
			zap.Int("clients", skipped),
		)
	}
	return delivered
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump forwards queued messages until the channel closes, the
// connection fails or ctx ends.
func (c *Client) writePump(ctx context.Context) {
	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.send:
			if !ok {
				return
			}
			msg = m
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c.conn, msg)
		cancel()
		if err != nil {
			c.logger.Debug("stream write failed", zap.String("remote", c.remote), zap.Error(err))
			return
		}
	}
}

// readPump discards inbound frames; it returns once the peer goes away.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
