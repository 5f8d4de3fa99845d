// Package webhook posts circuit transitions to an operator-supplied URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/personagen/internal/event"
	"github.com/HerbHall/personagen/internal/version"
	"go.uber.org/zap"
)

// Config holds the notifier configuration.
type Config struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`
}

// DefaultConfig returns the notifier defaults. An empty URL disables it.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		QueueSize: 64,
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event"`
	Provider  string `json:"provider"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
}

// Notifier delivers circuit transitions without blocking the publisher.
// Bus handlers only enqueue; a single worker performs the POSTs.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	queue  chan Payload
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	dropped int
}

// New creates a notifier. Returns nil when cfg.URL is empty.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		queue:  make(chan Payload, cfg.QueueSize),
	}
}

// Subscribe attaches the notifier to circuit transitions on bus.
func (n *Notifier) Subscribe(bus *event.Bus) (unsubscribe func()) {
	return bus.Subscribe(event.TopicStateChanged, n.handleEvent)
}

// Start launches the delivery worker.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	go n.run(ctx)
	n.logger.Info("webhook notifier started", zap.String("url", n.cfg.URL))
}

// Stop halts the worker and waits for it. Queued payloads are discarded.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
}

// Dropped returns how many payloads were discarded because the queue was full.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *Notifier) handleEvent(_ context.Context, e event.Event) {
	sc, ok := e.Payload.(event.StateChange)
	if !ok {
		return
	}
	p := Payload{
		Event:     e.Topic,
		Provider:  e.Provider,
		From:      sc.From,
		To:        sc.To,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	}
	select {
	case n.queue <- p:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.logger.Warn("webhook queue full, dropping notification",
			zap.String("provider", e.Provider),
			zap.String("to", sc.To),
		)
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-n.queue:
			if err := n.send(ctx, p); err != nil {
				n.logger.Warn("webhook delivery failed",
					zap.String("url", n.cfg.URL),
					zap.String("provider", p.Provider),
					zap.Error(err),
				)
			}
		}
	}
}

func (n *Notifier) send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Personagen-Webhook/"+version.Short())

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	n.logger.Debug("webhook delivered",
		zap.String("provider", p.Provider),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}
