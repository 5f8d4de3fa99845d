package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	remote "github.com/HerbHall/personagen/internal/llm"
	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Name is the provider identifier used for breaker, health and metrics state.
const Name = "ollama"

// Compile-time interface guard.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider for a self-hosted Ollama server.
type Provider struct {
	client  *api.Client
	cfg     Config
	limiter *rate.Limiter
	stats   remote.CallStats
	logger  *zap.Logger
}

// New creates an Ollama provider. It does not verify connectivity;
// the health monitor probes it on its first sweep.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama: url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse ollama url %q: invalid", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		client:  api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		cfg:     cfg,
		limiter: remote.NewLimiter(cfg.RequestsPerMinute),
		logger:  logger.With(zap.String("provider", Name)),
	}, nil
}

// Name returns "ollama".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// Capabilities returns static metadata. Self-hosted inference has no per-token cost.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          p.cfg.MaxTokens,
		Languages:          []string{"en"},
		PersonaInjection:   true,
		PoliticalAlignment: true,
	}
}

// Generate produces a persona-constrained completion via /api/chat.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResponse, error) {
	if err := llm.Validate(req); err != nil {
		return nil, err
	}
	if !remote.Allow(p.limiter) {
		return nil, remote.RateLimited(Name)
	}

	start := time.Now()
	resp, err := p.chat(ctx, req)
	p.stats.Record(err)
	if err != nil {
		p.logger.Debug("generation failed", zap.Error(err))
		return nil, err
	}
	resp.ProcessingTime = time.Since(start)
	return resp, nil
}

func (p *Provider) chat(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapError(err)
	}

	call := llm.ResolveCallConfig(req, p.cfg.MaxTokens)
	msgs := llm.BuildMessages(req)
	apiMessages := make([]api.Message, len(msgs))
	for i, m := range msgs {
		apiMessages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	noStream := false
	chatReq := &api.ChatRequest{
		Model:    p.cfg.Model,
		Messages: apiMessages,
		Stream:   &noStream,
		Options: map[string]any{
			"temperature": call.Temperature,
			"num_predict": call.MaxTokens,
		},
	}

	var (
		content strings.Builder
		final   api.ChatResponse
	)
	err := p.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		content.WriteString(r.Message.Content)
		if r.Done {
			final = r
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	text := llm.Truncate(strings.TrimSpace(content.String()), req.Constraints.MaxLength)
	if text == "" {
		return nil, llm.NewProviderError(Name, llm.ErrCodeUnavailable, "empty completion", nil)
	}

	model := final.Model
	if model == "" {
		model = p.cfg.Model
	}

	confidence := 0.8
	if final.DoneReason == "length" {
		confidence = 0.5
	}

	return &llm.GenerationResponse{
		Content:    text,
		Confidence: confidence,
		Provider:   Name,
		Model:      model,
		Usage: llm.Usage{
			InputTokens:  final.PromptEvalCount,
			OutputTokens: final.EvalCount,
			TotalTokens:  final.PromptEvalCount + final.EvalCount,
		},
	}, nil
}

// CheckHealth pings the Ollama server root.
func (p *Provider) CheckHealth(ctx context.Context) llm.HealthStatus {
	return remote.Probe(ctx, &p.stats, func(ctx context.Context) error {
		return mapError(p.client.Heartbeat(ctx))
	})
}
