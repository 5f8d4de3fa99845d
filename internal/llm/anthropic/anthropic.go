package anthropic

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
const Name = "anthropic"

const apiVersion = "2023-06-01"

// Compile-time interface guard.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider for Anthropic using the Messages API.
type Provider struct {
	apiKey     string
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	stats      remote.CallStats
	logger     *zap.Logger
}

// New creates an Anthropic provider.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
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

// Name returns "anthropic".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// Capabilities returns static metadata for the configured model.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          p.cfg.MaxTokens,
		Languages:          []string{"en", "es", "fr", "de", "it", "pt", "ja"},
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
	resp, err := p.messages(ctx, req)
	p.stats.Record(err)
	if err != nil {
		p.logger.Debug("generation failed", zap.Error(err))
		return nil, err
	}
	resp.ProcessingTime = time.Since(start)
	return resp, nil
}

func (p *Provider) messages(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapError(Name, err)
	}

	call := llm.ResolveCallConfig(req, p.cfg.MaxTokens)
	system, msgs := splitSystem(llm.BuildMessages(req))

	body, err := json.Marshal(messagesRequest{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   call.MaxTokens,
		Temperature: clampTemperature(call.Temperature),
	})
	if err != nil {
		return nil, llm.NewProviderError(Name, llm.ErrCodeInvalidRequest, "marshal messages request", err)
	}

	respBody, err := p.doPost(ctx, "/v1/messages", body)
	if err != nil {
		return nil, mapError(Name, err)
	}
	defer respBody.Close()

	var resp messagesResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, mapError(Name, fmt.Errorf("decode messages response: %w", err))
	}
	if resp.StopReason == "refusal" {
		return nil, llm.NewProviderError(Name, llm.ErrCodeContentFiltered, "model declined to respond", nil)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := llm.Truncate(strings.TrimSpace(text.String()), req.Constraints.MaxLength)
	if content == "" {
		return nil, llm.NewProviderError(Name, llm.ErrCodeUnavailable, "empty completion", nil)
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}

	confidence := 0.9
	if resp.StopReason != "end_turn" && resp.StopReason != "stop_sequence" {
		confidence = 0.6
	}

	return &llm.GenerationResponse{
		Content:    content,
		Confidence: confidence,
		Provider:   Name,
		Model:      model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		RequestID: resp.ID,
	}, nil
}

// splitSystem lifts system messages into the top-level system field and
// merges consecutive turns of the same role, since the Messages API
// requires strictly alternating user/assistant turns starting with user.
func splitSystem(msgs []llm.Message) (string, []chatMessage) {
	var system []string
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		if len(out) == 0 && m.Role != llm.RoleUser {
			out = append(out, chatMessage{Role: llm.RoleUser, Content: "(conversation so far)"})
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return strings.Join(system, "\n\n"), out
}

// clampTemperature maps the 0-2 request range onto Anthropic's 0-1 range.
func clampTemperature(t float64) float64 {
	return min(max(t, 0), 1)
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
	p.setHeaders(req)

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

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func (p *Provider) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	p.setHeaders(req)

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
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return &anthropicStatusError{
			StatusCode: resp.StatusCode,
			Type:       errResp.Error.Type,
			Message:    errResp.Error.Message,
		}
	}
	return &anthropicStatusError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// Anthropic API wire types.

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
