// Package llmtest provides shared contract tests that verify any
// llm.Provider implementation behaves correctly. Every provider's test
// file should call TestProviderContract to ensure conformance.
//
// Remote providers are expected to be pointed at an httptest server that
// answers successfully; the suite does not require a live backend.
package llmtest

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/HerbHall/personagen/pkg/llm"
)

// SampleRequest returns a well-formed request used by the contract suite.
func SampleRequest() *llm.GenerationRequest {
	return &llm.GenerationRequest{
		Context: "react to this headline",
		Persona: llm.Persona{
			ID:                "persona-1",
			Name:              "Ada",
			Tone:              "wry",
			PersonalityTraits: []string{"curious", "skeptical"},
			Interests:         []string{"technology"},
			Stance:            llm.PoliticalStance{Label: "centrist", Economic: 0.1, Social: -0.2},
			Behavior:          llm.Behavior{ControversyTolerance: 0.4, DebateAggression: 0.2, EngagementFrequency: 0.6},
		},
		Constraints: llm.Constraints{MaxLength: 280},
		Reference: &llm.ReferenceItem{
			ID:    "news-1",
			Title: "City council approves new bike lanes",
		},
	}
}

// TestProviderContract runs a suite of behavioral contract tests against
// any llm.Provider implementation. Call this from each provider's _test.go:
//
//	func TestContract(t *testing.T) {
//	    llmtest.TestProviderContract(t, func() llm.Provider { return newTestProvider(t, srv.URL) })
//	}
func TestProviderContract(t *testing.T, factory func() llm.Provider) {
	t.Helper()

	t.Run("Name_is_not_empty", func(t *testing.T) {
		if factory().Name() == "" {
			t.Error("Name() must not be empty")
		}
	})

	t.Run("Generate_returns_non_empty_response", func(t *testing.T) {
		p := factory()
		resp, err := p.Generate(context.Background(), SampleRequest())
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if resp == nil {
			t.Fatal("Generate() returned nil response")
		}
		if resp.Content == "" {
			t.Error("Generate() returned empty content")
		}
		if resp.Model == "" {
			t.Error("Response.Model must not be empty")
		}
		if resp.Provider != p.Name() {
			t.Errorf("Response.Provider = %q, want %q", resp.Provider, p.Name())
		}
		if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
			t.Errorf("Usage.TotalTokens = %d, want %d", resp.Usage.TotalTokens, resp.Usage.InputTokens+resp.Usage.OutputTokens)
		}
	})

	t.Run("Generate_respects_max_length", func(t *testing.T) {
		p := factory()
		req := SampleRequest()
		req.Constraints.MaxLength = 12
		resp, err := p.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if n := utf8.RuneCountInString(resp.Content); n > 12 {
			t.Errorf("content length = %d, want <= 12 (%q)", n, resp.Content)
		}
	})

	t.Run("Generate_nil_request_is_invalid", func(t *testing.T) {
		p := factory()
		_, err := p.Generate(context.Background(), nil)
		if !llm.IsInvalidRequest(err) {
			t.Errorf("Generate(nil) error = %v, want invalid_request", err)
		}
	})

	t.Run("Generate_cancelled_context", func(t *testing.T) {
		p := factory()
		if p.Capabilities().Local {
			t.Skip("local providers do not perform I/O")
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Generate(ctx, SampleRequest())
		if err == nil {
			t.Fatal("Generate() with cancelled context should return error")
		}
		if !llm.IsUnavailable(err) {
			t.Errorf("cancelled Generate() error = %v, want unavailable", err)
		}
	})

	t.Run("CheckHealth_reports_healthy", func(t *testing.T) {
		p := factory()
		status := p.CheckHealth(context.Background())
		if !status.Healthy {
			t.Errorf("CheckHealth().Healthy = false (%s), want true", status.Message)
		}
	})

	t.Run("Capabilities_are_static", func(t *testing.T) {
		p := factory()
		a, b := p.Capabilities(), p.Capabilities()
		if a.MaxTokens != b.MaxTokens || a.Local != b.Local || a.CostPerInputToken != b.CostPerInputToken {
			t.Error("Capabilities() must return the same values on every call")
		}
		if a.MaxTokens <= 0 {
			t.Errorf("Capabilities().MaxTokens = %d, want > 0", a.MaxTokens)
		}
	})
}
