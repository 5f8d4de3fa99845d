// Package fallback implements the local last-resort provider. It renders a
// persona-flavored reply from fixed templates, performs no I/O and cannot
// fail on a valid request, so the orchestrator always has an answer.
package fallback

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/cespare/xxhash/v2"
)

const (
	// Name is the provider identifier.
	Name = "fallback"

	// Model is reported on every response.
	Model = "template-v1"

	// Priority sorts the fallback after every remote provider.
	Priority = 1000

	confidence = 0.3
)

// Compile-time interface guard.
var _ llm.Provider = (*Provider)(nil)

// Provider is the deterministic template generator.
type Provider struct{}

// New creates the fallback provider.
func New() *Provider { return &Provider{} }

// Name returns "fallback".
func (p *Provider) Name() string { return Name }

// Priority returns the largest priority number in the registry.
func (p *Provider) Priority() int { return Priority }

// Capabilities marks the provider as local and free.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:        512,
		Languages:        []string{"en"},
		PersonaInjection: true,
		Local:            true,
	}
}

// CheckHealth always reports healthy.
func (p *Provider) CheckHealth(context.Context) llm.HealthStatus {
	return llm.HealthStatus{Healthy: true}
}

// Generate renders a reply. The same request always yields the same content.
// The context is ignored: rendering is instant and must succeed even after
// the caller's deadline has passed.
func (p *Provider) Generate(_ context.Context, req *llm.GenerationRequest) (*llm.GenerationResponse, error) {
	if err := llm.Validate(req); err != nil {
		return nil, err
	}

	start := time.Now()
	content := Render(req)
	in := llm.EstimateTokens(llm.SystemPrompt(req)) + llm.EstimateTokens(llm.UserPrompt(req))
	out := llm.EstimateTokens(content)

	return &llm.GenerationResponse{
		Content:        content,
		Confidence:     confidence,
		ProcessingTime: time.Since(start),
		Provider:       Name,
		Model:          Model,
		Usage: llm.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
	}, nil
}

var (
	openers = map[string][]string{
		"agree": {
			"Honestly, %s is a step in the right direction.",
			"Glad to see %s finally happening.",
			"Credit where due: %s makes sense.",
		},
		"disagree": {
			"I'm not convinced %s is the answer.",
			"Hard to cheer for %s without seeing the trade-offs.",
			"Call me skeptical about %s.",
		},
		"neutral": {
			"Interesting news: %s.",
			"Worth watching how %s plays out.",
			"Curious what people make of %s.",
		},
	}

	closers = map[string][]string{
		"economic_right": {"Who pays for it?", "Let's see the budget first."},
		"economic_left":  {"Hope it helps the people who need it most.", "Public investment done right."},
		"social_right":   {"Tradition matters here too.", "Let's not rush it."},
		"social_left":    {"Good for the community.", "More of this, please."},
		"center":         {"Time will tell.", "Details matter."},
	}
)

// Render builds the fallback reply for req, truncated to its MaxLength.
func Render(req *llm.GenerationRequest) string {
	h := seed(req)

	topic := subject(req)
	opts := openers[mood(req.Persona)]
	opener := fmt.Sprintf(opts[h%uint64(len(opts))], topic)

	cl := closers[leaning(req.Persona.Stance)]
	closer := cl[(h>>16)%uint64(len(cl))]

	text := opener + " " + closer
	if interest := firstInterest(req.Persona); interest != "" && (h>>32)%2 == 0 {
		text += " #" + hashtag(interest)
	}
	return llm.Truncate(text, req.Constraints.MaxLength)
}

func seed(req *llm.GenerationRequest) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(req.Persona.ID)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(req.Context)
	if req.Reference != nil {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(req.Reference.ID)
	}
	return d.Sum64()
}

func subject(req *llm.GenerationRequest) string {
	if req.Reference != nil && req.Reference.Title != "" {
		return lowerFirst(strings.TrimRight(req.Reference.Title, ".!?"))
	}
	ctx := strings.Join(strings.Fields(req.Context), " ")
	if len([]rune(ctx)) > 60 {
		ctx = llm.Truncate(ctx, 60)
	}
	return "this (" + ctx + ")"
}

// mood maps behavior traits onto a reaction bucket.
func mood(p llm.Persona) string {
	switch {
	case p.Behavior.DebateAggression >= 0.6:
		return "disagree"
	case p.Behavior.EngagementFrequency >= 0.5 && p.Behavior.ControversyTolerance < 0.5:
		return "agree"
	default:
		return "neutral"
	}
}

// leaning picks the stronger stance axis.
func leaning(s llm.PoliticalStance) string {
	const dead = 0.25
	econ, soc := math.Abs(s.Economic), math.Abs(s.Social)
	if econ < dead && soc < dead {
		return "center"
	}
	if econ >= soc {
		if s.Economic > 0 {
			return "economic_right"
		}
		return "economic_left"
	}
	if s.Social > 0 {
		return "social_right"
	}
	return "social_left"
}

func firstInterest(p llm.Persona) string {
	if len(p.Interests) > 0 {
		return p.Interests[0]
	}
	return ""
}

func hashtag(s string) string {
	var b strings.Builder
	for _, w := range strings.Fields(s) {
		r := []rune(w)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if len(r) > 1 && r[1] >= 'A' && r[1] <= 'Z' {
		return s // acronym
	}
	return strings.ToLower(string(r[:1])) + string(r[1:])
}
