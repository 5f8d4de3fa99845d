package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	remote "github.com/HerbHall/personagen/internal/llm"
	"github.com/HerbHall/personagen/pkg/llm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Name is the provider identifier used for breaker, health and metrics state.
const Name = "openai"

// Compile-time interface guard.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider for OpenAI using its chat completions API.
type Provider struct {
	apiKey     string
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	stats      remote.CallStats
	logger     *zap.Logger
}

// New creates an OpenAI provider.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    remote.NewLimiter(cfg.RequestsPerMinute),
		logger:     logger.With(zap.String("provider", Name)),
	}, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// Capabilities returns static metadata for the configured model.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          p.cfg.MaxTokens,
		Languages:          []string{"en", "es", "fr", "de", "it", "pt", "ja", "zh"},
		PersonaInjection:   true,
		PoliticalAlignment: true,
		ContentFiltering:   true,
		CostPerInputToken:  p.cfg.CostPerInputToken,
		CostPerOutputToken: p.cfg.CostPerOutputToken,
	}
}

// Generate produces a persona-constrained completion.
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
		return nil, mapError(Name, err)
	}

	call := llm.ResolveCallConfig(req, p.cfg.MaxTokens)
	msgs := llm.BuildMessages(req)
	apiMessages := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		apiMessages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(chatRequest{
		Model:       p.cfg.Model,
		Messages:    apiMessages,
		Temperature: call.Temperature,
		MaxTokens:   call.MaxTokens,
		User:        req.Persona.ID,
	})
	if err != nil {
		return nil, llm.NewProviderError(Name, llm.ErrCodeInvalidRequest, "marshal chat request", err)
	}

	respBody, err := p.doPost(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, mapError(Name, err)
	}
	defer respBody.Close()

	var resp chatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, mapError(Name, fmt.Errorf("decode chat response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError(Name, llm.ErrCodeUnavailable, "response contained no choices", nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, llm.NewProviderError(Name, llm.ErrCodeContentFiltered, "completion withheld by content filter", nil)
	}

	content := llm.Truncate(strings.TrimSpace(choice.Message.Content), req.Constraints.MaxLength)
	if content == "" {
		return nil, llm.NewProviderError(Name, llm.ErrCodeUnavailable, "empty completion", nil)
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}

	confidence := 0.9
	if choice.FinishReason != "stop" {
		confidence = 0.6
	}

	return &llm.GenerationResponse{
		Content:    content,
		Confidence: confidence,
		Provider:   Name,
		Model:      model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		},
		RequestID: resp.ID,
	}, nil
}

// CheckHealth lists models as a cheap authenticated probe.
func (p *Provider) CheckHealth(ctx context.Context) llm.HealthStatus {
	return remote.Probe(ctx, &p.stats, p.heartbeat)
}

func (p *Provider) heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", http.NoBody)
	if err != nil {
		return mapError(Name, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return mapError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapError(Name, parseStatusError(resp))
	}
	return nil
}

func (p *Provider) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseStatusError(resp)
	}

	return resp.Body, nil
}

func parseStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return &openaiStatusError{
			StatusCode: resp.StatusCode,
			Type:       errResp.Error.Type,
			Code:       errResp.Error.Code,
			Message:    errResp.Error.Message,
		}
	}
	return &openaiStatusError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// OpenAI API wire types.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
