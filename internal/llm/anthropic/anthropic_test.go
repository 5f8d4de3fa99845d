package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/HerbHall/personagen/pkg/llm/llmtest"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, serverURL string) *Provider {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = serverURL
	cfg.Model = "test-model"
	cfg.Timeout = 5 * time.Second
	cfg.RequestsPerMinute = 0
	p, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func mockAnthropic(t *testing.T, captured *messagesRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"data":[{"id":"test-model"}]}`)) //nolint:errcheck
	})

	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if captured != nil {
			*captured = req
		}
		resp := messagesResponse{
			ID:         "msg_1",
			Model:      req.Model,
			StopReason: "end_turn",
			Content: []contentBlock{
				{Type: "text", Text: "Bike lanes, "},
				{Type: "text", Text: "at last."},
			},
		}
		resp.Usage.InputTokens = 30
		resp.Usage.OutputTokens = 5
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestContract(t *testing.T) {
	srv := mockAnthropic(t, nil)
	llmtest.TestProviderContract(t, func() llm.Provider { return newTestProvider(t, srv.URL) })
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(DefaultConfig(), zap.NewNop()); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestGenerate_Success(t *testing.T) {
	var captured messagesRequest
	srv := mockAnthropic(t, &captured)
	p := newTestProvider(t, srv.URL)

	resp, err := p.Generate(context.Background(), llmtest.SampleRequest())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "Bike lanes, at last." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 35 {
		t.Errorf("TotalTokens = %d, want 35", resp.Usage.TotalTokens)
	}
	if captured.System == "" {
		t.Error("system prompt should be sent in the top-level field")
	}
	for _, m := range captured.Messages {
		if m.Role == llm.RoleSystem {
			t.Error("system role must not appear in messages")
		}
	}
	if captured.Temperature > 1 {
		t.Errorf("Temperature = %v, want <= 1", captured.Temperature)
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", 429, `{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`, llm.IsRateLimited},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, llm.IsUnavailable},
		{"auth", 401, `{"type":"error","error":{"type":"authentication_error","message":"bad"}}`, llm.IsUnavailable},
		{"model", 404, `{"type":"error","error":{"type":"not_found_error","message":"model: nope"}}`, llm.IsModelNotFound},
		{"bad request", 400, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, llm.IsInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			p := newTestProvider(t, srv.URL)
			_, err := p.Generate(context.Background(), llmtest.SampleRequest())
			if !tt.check(err) {
				t.Errorf("Generate() error = %v (kind %q)", err, llm.KindOf(err))
			}
		})
	}
}

func TestGenerate_Refusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"m","model":"x","stop_reason":"refusal","content":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.Generate(context.Background(), llmtest.SampleRequest())
	if !llm.IsContentFiltered(err) {
		t.Errorf("Generate() error = %v, want content_filtered", err)
	}
}

func TestSplitSystem(t *testing.T) {
	system, msgs := splitSystem([]llm.Message{
		{Role: llm.RoleSystem, Content: "be Ada"},
		{Role: llm.RoleAssistant, Content: "earlier reply"},
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleUser, Content: "b"},
	})
	if system != "be Ada" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != llm.RoleUser {
		t.Errorf("first message role = %q, want user", msgs[0].Role)
	}
	if msgs[2].Content != "a\n\nb" {
		t.Errorf("merged content = %q", msgs[2].Content)
	}
}

func TestCheckHealth_BadKey(t *testing.T) {
	srv := mockAnthropic(t, nil)
	p := newTestProvider(t, srv.URL)
	p.apiKey = "wrong"

	status := p.CheckHealth(context.Background())
	if status.Healthy {
		t.Error("CheckHealth() reported healthy with a rejected key")
	}
}
