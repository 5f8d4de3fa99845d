// Package llm provides the public SDK types for generation provider integrations.
// All providers (OpenAI, Anthropic, Ollama and the local fallback) implement
// these interfaces. Implementations live in internal/llm/{provider}/ adapters.
//
// This package is Apache 2.0 licensed, part of the public plugin SDK.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Provider is the core interface implemented by every generation backend.
type Provider interface {
	// Name identifies the provider. It keys circuit breaker, health and metrics state.
	Name() string

	// Priority orders providers; lower values are attempted first.
	Priority() int

	// Generate produces a persona-constrained completion for req.
	// Failures are returned as *ProviderError.
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error)

	// CheckHealth runs a minimal low-cost probe. It never returns an error;
	// a failed probe is reported as an unhealthy status.
	CheckHealth(ctx context.Context) HealthStatus

	// Capabilities returns static provider metadata.
	Capabilities() Capabilities
}

// CallConfig holds the resolved sampling configuration for a single call.
type CallConfig struct {
	Temperature float64
	MaxTokens   int
}

// Default sampling values used when a request leaves them unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

// ResolveCallConfig derives sampling parameters from the request constraints.
// MaxTokens is estimated from MaxLength at roughly four characters per token
// and capped by maxTokens (the provider's own limit) when positive.
func ResolveCallConfig(req *GenerationRequest, maxTokens int) CallConfig {
	cfg := CallConfig{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	if req.Constraints.Temperature != nil {
		cfg.Temperature = *req.Constraints.Temperature
	}
	if req.Constraints.MaxLength > 0 {
		cfg.MaxTokens = req.Constraints.MaxLength/4 + 16
	}
	if maxTokens > 0 && cfg.MaxTokens > maxTokens {
		cfg.MaxTokens = maxTokens
	}
	return cfg
}

// Validate reports whether req is well formed enough to send to a provider.
func Validate(req *GenerationRequest) error {
	if req == nil {
		return NewProviderError("", ErrCodeInvalidRequest, "request must not be nil", nil)
	}
	if strings.TrimSpace(req.Context) == "" {
		return NewProviderError("", ErrCodeInvalidRequest, "context must not be empty", nil)
	}
	if req.Persona.ID == "" {
		return NewProviderError("", ErrCodeInvalidRequest, "persona id must not be empty", nil)
	}
	if req.Constraints.MaxLength < 0 {
		return NewProviderError("", ErrCodeInvalidRequest, "max length must not be negative", nil)
	}
	if t := req.Constraints.Temperature; t != nil && !(*t >= 0 && *t <= 2) {
		return NewProviderError("", ErrCodeInvalidRequest, fmt.Sprintf("temperature %.2f out of range [0, 2]", *t), nil)
	}
	p := req.Persona
	for name, v := range map[string]float64{
		"stance.economic":                p.Stance.Economic,
		"stance.social":                  p.Stance.Social,
		"behavior.controversy_tolerance": p.Behavior.ControversyTolerance,
		"behavior.debate_aggression":     p.Behavior.DebateAggression,
		"behavior.engagement_frequency":  p.Behavior.EngagementFrequency,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewProviderError("", ErrCodeInvalidRequest, "persona "+name+" must be a finite number", nil)
		}
	}
	return nil
}

// BuildMessages renders a request into the system + history + user message
// sequence shared by the chat-style remote adapters.
func BuildMessages(req *GenerationRequest) []Message {
	window := req.Window()
	msgs := make([]Message, 0, len(window)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: SystemPrompt(req)})
	for _, t := range window {
		role := t.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: UserPrompt(req)})
	return msgs
}

// SystemPrompt renders the persona and output constraints as system instructions.
func SystemPrompt(req *GenerationRequest) string {
	p := req.Persona
	var b strings.Builder

	if p.SystemInstructions != "" {
		b.WriteString(p.SystemInstructions)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "You are %s.", personaName(p))
	if tone := firstNonEmpty(req.Constraints.RequiredTone, p.Tone); tone != "" {
		fmt.Fprintf(&b, " Write in a %s tone.", tone)
	}
	if len(p.PersonalityTraits) > 0 {
		fmt.Fprintf(&b, " Personality: %s.", strings.Join(p.PersonalityTraits, ", "))
	}
	if topics := append(append([]string(nil), p.Interests...), p.Expertise...); len(topics) > 0 {
		fmt.Fprintf(&b, " You care about %s.", strings.Join(topics, ", "))
	}
	if p.Stance.Label != "" || p.Stance.Economic != 0 || p.Stance.Social != 0 {
		fmt.Fprintf(&b, " Political stance: %s (economic %.2f, social %.2f).",
			firstNonEmpty(p.Stance.Label, "unlabelled"), p.Stance.Economic, p.Stance.Social)
	}
	fmt.Fprintf(&b, " Controversy tolerance %.2f, debate aggression %.2f.",
		p.Behavior.ControversyTolerance, p.Behavior.DebateAggression)
	if req.Constraints.MaxLength > 0 {
		fmt.Fprintf(&b, " Reply in at most %d characters.", req.Constraints.MaxLength)
	}
	if len(req.Constraints.ForbiddenTopics) > 0 {
		fmt.Fprintf(&b, " Never discuss: %s.", strings.Join(req.Constraints.ForbiddenTopics, ", "))
	}
	return b.String()
}

// UserPrompt renders the request context and optional reference item.
func UserPrompt(req *GenerationRequest) string {
	if req.Reference == nil {
		return req.Context
	}
	ref := req.Reference
	var b strings.Builder
	b.WriteString(req.Context)
	fmt.Fprintf(&b, "\n\nReference: %s", ref.Title)
	if ref.Source != "" {
		fmt.Fprintf(&b, " (%s)", ref.Source)
	}
	if ref.Summary != "" {
		b.WriteString("\n")
		b.WriteString(ref.Summary)
	}
	return b.String()
}

// Truncate shortens s to at most max runes, preferring a word boundary.
// A non-positive max returns s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-")
}

// EstimateTokens returns a rough token count for text (four characters per token).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func personaName(p Persona) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
