package fallback

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/HerbHall/personagen/pkg/llm/llmtest"
)

func TestContract(t *testing.T) {
	llmtest.TestProviderContract(t, func() llm.Provider { return New() })
}

func TestGenerate_Deterministic(t *testing.T) {
	p := New()
	a, err := p.Generate(context.Background(), llmtest.SampleRequest())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := p.Generate(context.Background(), llmtest.SampleRequest())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if a.Content != b.Content {
		t.Errorf("content differs between identical requests: %q vs %q", a.Content, b.Content)
	}
	if a.Provider != Name || a.Model != Model {
		t.Errorf("Provider/Model = %q/%q", a.Provider, a.Model)
	}
	if a.Confidence <= 0 || a.Confidence >= 1 {
		t.Errorf("Confidence = %v, want in (0,1)", a.Confidence)
	}
}

func TestGenerate_IgnoresExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := New().Generate(ctx, llmtest.SampleRequest())
	if err != nil {
		t.Fatalf("Generate() with cancelled context error = %v", err)
	}
	if resp.Content == "" {
		t.Error("expected content")
	}
}

func TestRender_MentionsReference(t *testing.T) {
	req := llmtest.SampleRequest()
	req.Constraints.MaxLength = 0
	got := Render(req)
	if !strings.Contains(got, "city council approves new bike lanes") {
		t.Errorf("Render() = %q, want reference title", got)
	}
}

func TestRender_WithoutReferenceUsesContext(t *testing.T) {
	req := llmtest.SampleRequest()
	req.Reference = nil
	req.Constraints.MaxLength = 0
	got := Render(req)
	if !strings.Contains(got, "react to this headline") {
		t.Errorf("Render() = %q, want context text", got)
	}
}

func TestRender_RespectsMaxLength(t *testing.T) {
	for _, n := range []int{20, 50, 280} {
		req := llmtest.SampleRequest()
		req.Constraints.MaxLength = n
		if got := Render(req); utf8.RuneCountInString(got) > n || got == "" {
			t.Errorf("Render(max=%d) = %q", n, got)
		}
	}
}

func TestRender_VariesByPersona(t *testing.T) {
	seen := map[string]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		req := llmtest.SampleRequest()
		req.Persona.ID = id
		seen[Render(req)] = true
	}
	if len(seen) < 2 {
		t.Error("expected different personas to produce different replies")
	}
}

func TestLeaning(t *testing.T) {
	tests := []struct {
		stance llm.PoliticalStance
		want   string
	}{
		{llm.PoliticalStance{}, "center"},
		{llm.PoliticalStance{Economic: 0.8, Social: 0.1}, "economic_right"},
		{llm.PoliticalStance{Economic: -0.8}, "economic_left"},
		{llm.PoliticalStance{Economic: 0.3, Social: 0.9}, "social_right"},
		{llm.PoliticalStance{Social: -0.5}, "social_left"},
	}
	for _, tt := range tests {
		if got := leaning(tt.stance); got != tt.want {
			t.Errorf("leaning(%+v) = %q, want %q", tt.stance, got, tt.want)
		}
	}
}

func TestMood(t *testing.T) {
	if got := mood(llm.Persona{Behavior: llm.Behavior{DebateAggression: 0.9}}); got != "disagree" {
		t.Errorf("aggressive persona mood = %q", got)
	}
	if got := mood(llm.Persona{Behavior: llm.Behavior{EngagementFrequency: 0.8}}); got != "agree" {
		t.Errorf("engaged persona mood = %q", got)
	}
	if got := mood(llm.Persona{}); got != "neutral" {
		t.Errorf("default mood = %q", got)
	}
}

func TestHashtag(t *testing.T) {
	if got := hashtag("urban planning"); got != "UrbanPlanning" {
		t.Errorf("hashtag() = %q", got)
	}
}
