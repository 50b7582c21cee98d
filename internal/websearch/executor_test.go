// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sidekick/internal/config"
)

// testConfig returns a config with a limiter generous enough that tests
// never wait on it.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.WebSearch.RatePerSecond = 1000
	cfg.WebSearch.RateBurst = 1000
	return cfg
}

// =============================================================================
// GATING TESTS
// =============================================================================

func TestShouldEnable(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		provider string
		model    string
		want     bool
	}{
		{
			name:     "disabled globally",
			mutate:   func(c *config.Config) { c.WebSearch.Enabled = false },
			provider: "openai",
			model:    "gpt-4o",
			want:     false,
		},
		{
			name:     "perplexity chat searches natively already",
			mutate:   func(c *config.Config) { c.Providers.Perplexity.APIKeys = []string{"k"} },
			provider: "perplexity",
			model:    "sonar",
			want:     false,
		},
		{
			name:     "gpt family on openai needs no credential",
			mutate:   func(c *config.Config) {},
			provider: "openai",
			model:    "gpt-4o",
			want:     true,
		},
		{
			name: "gpt family on custom endpoint",
			mutate: func(c *config.Config) {
				c.Custom = []config.CustomProvider{{ID: "proxy", BaseURL: "http://x"}}
			},
			provider: "proxy",
			model:    "gpt-4o-mini",
			want:     true,
		},
		{
			name:     "gemini chat grounds natively",
			mutate:   func(c *config.Config) {},
			provider: "gemini",
			model:    "gemini-2.5-flash",
			want:     true,
		},
		{
			name:     "anthropic without any credential",
			mutate:   func(c *config.Config) {},
			provider: "anthropic",
			model:    "claude-sonnet-4-20250514",
			want:     false,
		},
		{
			name:     "anthropic with kagi cookie",
			mutate:   func(c *config.Config) { c.WebSearch.KagiSession = "cookie" },
			provider: "anthropic",
			model:    "claude-sonnet-4-20250514",
			want:     true,
		},
		{
			name:     "anthropic with perplexity key",
			mutate:   func(c *config.Config) { c.Providers.Perplexity.APIKeys = []string{"k"} },
			provider: "anthropic",
			model:    "claude-sonnet-4-20250514",
			want:     true,
		},
		{
			name:     "non-gpt model on openai without credential",
			mutate:   func(c *config.Config) {},
			provider: "openai",
			model:    "o1-preview",
			want:     false,
		},
		{
			name:     "non-gpt model on openai with google key",
			mutate:   func(c *config.Config) { c.Providers.Gemini.APIKeys = []string{"g"} },
			provider: "openai",
			model:    "o1-preview",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if got := ShouldEnable(cfg, tt.provider, tt.model); got != tt.want {
				t.Errorf("ShouldEnable(%s, %s) = %v, want %v", tt.provider, tt.model, got, tt.want)
			}
		})
	}
}

func TestArguments_Flatten(t *testing.T) {
	tests := []struct {
		name string
		args Arguments
		want []string
	}{
		{"single query", Arguments{Query: "go 1.23 release"}, []string{"go 1.23 release"}},
		{"batch wins over single", Arguments{Query: "x", Queries: []string{"a", "b"}}, []string{"a", "b"}},
		{"blank entries dropped", Arguments{Queries: []string{" ", "a", ""}}, []string{"a"}},
		{"all empty", Arguments{Query: "  "}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.args.Flatten()
			if len(got) != len(tt.want) {
				t.Fatalf("Flatten() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Flatten()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// =============================================================================
// BACKEND SELECTION TESTS
// =============================================================================

func TestExecutor_BackendSelection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "explicit backend wins",
			mutate: func(c *config.Config) { c.WebSearch.Backend = BackendGoogle },
			want:   BackendGoogle,
		},
		{
			name:   "perplexity key auto-picks perplexity",
			mutate: func(c *config.Config) { c.Providers.Perplexity.APIKeys = []string{"k"} },
			want:   BackendPerplexity,
		},
		{
			name:   "kagi cookie auto-picks kagi",
			mutate: func(c *config.Config) { c.WebSearch.KagiSession = "cookie" },
			want:   BackendKagi,
		},
		{
			name:   "gemini key auto-picks google",
			mutate: func(c *config.Config) { c.Providers.Gemini.APIKeys = []string{"g"} },
			want:   BackendGoogle,
		},
		{
			name:   "no credentials defaults to perplexity",
			mutate: func(c *config.Config) {},
			want:   BackendPerplexity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if got := NewExecutor(cfg).Backend(); got != tt.want {
				t.Errorf("Backend() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// EXECUTE TESTS
// =============================================================================

func TestExecutor_PerplexityBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer pplx-key" {
			t.Errorf("Authorization = %q", got)
		}

		var payload struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Model != "sonar" {
			t.Errorf("model = %q, want sonar", payload.Model)
		}
		if payload.Stream {
			t.Error("search completions should not stream")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Go 1.23 shipped in August 2024."}}],
			"citations": ["https://go.dev/blog/go1.23"],
			"search_results": [{"title": "Go 1.23 is released", "url": "https://go.dev/blog/go1.23"}]
		}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.WebSearch.Backend = BackendPerplexity
	cfg.Providers.Perplexity.APIKeys = []string{"pplx-key"}
	cfg.Providers.Perplexity.BaseURL = server.URL

	result, err := NewExecutor(cfg).Execute(context.Background(), "when did go 1.23 ship")
	require.NoError(t, err)

	if result.Content != "Go 1.23 shipped in August 2024." {
		t.Errorf("Content = %q", result.Content)
	}
	require.Len(t, result.Sources, 1)
	if result.Sources[0].Title != "Go 1.23 is released" {
		t.Errorf("Sources[0].Title = %q", result.Sources[0].Title)
	}
}

func TestExecutor_GoogleBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path = %q, want :generateContent call", r.URL.Path)
		}

		body := make(map[string]any)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		tools, _ := body["tools"].([]any)
		if len(tools) == 0 {
			t.Error("payload should attach the native search tool")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "The answer."}]},
				"groundingMetadata": {
					"groundingChunks": [
						{"web": {"uri": "https://example.com/a", "title": "Example A"}}
					]
				}
			}]
		}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.WebSearch.Backend = BackendGoogle
	cfg.Providers.Gemini.APIKeys = []string{"g-key"}
	cfg.Providers.Gemini.BaseURL = server.URL

	result, err := NewExecutor(cfg).Execute(context.Background(), "what is the answer")
	require.NoError(t, err)

	if result.Content != "The answer." {
		t.Errorf("Content = %q", result.Content)
	}
	require.Len(t, result.Sources, 1)
	if result.Sources[0].URL != "https://example.com/a" {
		t.Errorf("Sources[0].URL = %q", result.Sources[0].URL)
	}
}

func TestExecutor_MissingCredentialDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.WebSearch.Backend = BackendPerplexity

	result, err := NewExecutor(cfg).Execute(context.Background(), "anything")
	require.NoError(t, err)

	if !strings.Contains(result.Content, "no Perplexity API key") {
		t.Errorf("Content = %q, want a missing-credential explanation", result.Content)
	}
}

func TestExecutor_BackendErrorDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.WebSearch.Backend = BackendPerplexity
	cfg.Providers.Perplexity.APIKeys = []string{"bad"}
	cfg.Providers.Perplexity.BaseURL = server.URL

	result, err := NewExecutor(cfg).Execute(context.Background(), "anything")
	require.NoError(t, err)

	if !strings.Contains(result.Content, "web search failed") {
		t.Errorf("Content = %q, want embedded failure description", result.Content)
	}
	if !strings.Contains(result.Content, "bad key") {
		t.Errorf("Content = %q, want the provider message", result.Content)
	}
}

func TestExecutor_CancellationPropagates(t *testing.T) {
	cfg := testConfig()
	cfg.WebSearch.Backend = BackendPerplexity
	cfg.Providers.Perplexity.APIKeys = []string{"k"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewExecutor(cfg).Execute(ctx, "anything")
	if err == nil {
		t.Fatal("Execute() with canceled context should return an error")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("err = %v, want context cancellation", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on cancellation", result)
	}
}

func TestExecutor_EmptyQuery(t *testing.T) {
	result, err := NewExecutor(testConfig()).Execute(context.Background(), "   ")
	require.NoError(t, err)
	if !strings.Contains(result.Content, "empty query") {
		t.Errorf("Content = %q", result.Content)
	}
}
