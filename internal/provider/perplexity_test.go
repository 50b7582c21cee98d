// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jeranaias/sidekick/internal/model"
)

// Perplexity reports citations at the chunk root, as bare URL strings or
// objects; both normalize into sources.
func TestPerplexityAdapter_StreamCitations(t *testing.T) {
	server := sseServer(t,
		`{"choices":[{"delta":{"content":"Go 1.24 shipped."}}],"citations":["https://go.dev/blog/go1.24"]}`,
		`{"choices":[{"delta":{"content":" See the notes."}}],"citations":[{"url":"https://go.dev/doc/go1.24","title":"Release Notes"}],"search_results":[{"title":"Go Blog","url":"https://go.dev/blog/go1.24","snippet":"Go 1.24 is released"}]}`,
	)
	defer server.Close()

	adapter := &PerplexityAdapter{}
	result, err := adapter.Stream(context.Background(), Request{
		Provider: model.ProviderPerplexity,
		Messages: []*model.Message{model.NewUserMessage("go 1.24?")},
		Model:    "sonar",
		APIKey:   "pplx-test",
		BaseURL:  server.URL,
	}, Handlers{})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	if result.Text != "Go 1.24 shipped. See the notes." {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("sources = %+v, want 2 after dedup", result.Sources)
	}
	// The bare-string citation gains its title from the later
	// search_results sighting of the same URL.
	if result.Sources[0].URL != "https://go.dev/blog/go1.24" || result.Sources[0].Title != "Go Blog" {
		t.Errorf("first source = %+v", result.Sources[0])
	}
	if result.Sources[1].Title != "Release Notes" {
		t.Errorf("second source = %+v", result.Sources[1])
	}
}

func TestPerplexityAdapter_CallPayload(t *testing.T) {
	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &raw)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}],"citations":["https://example.com"]}`)
	}))
	defer server.Close()

	adapter := &PerplexityAdapter{}
	result, err := adapter.Call(context.Background(), Request{
		Provider:        model.ProviderPerplexity,
		Messages:        []*model.Message{model.NewUserMessage("q")},
		Model:           "sonar",
		APIKey:          "pplx-test",
		BaseURL:         server.URL,
		SystemPrompt:    "Answer briefly.",
		NativeWebSearch: true,
	})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	if _, ok := raw["web_search_options"]; !ok {
		t.Error("payload missing web_search_options")
	}

	// No injected date/time line for Perplexity; the system prompt rides
	// through verbatim.
	var msgs []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	json.Unmarshal(raw["messages"], &msgs)
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content != "Answer briefly." {
		t.Errorf("system = %q, want verbatim prompt", msgs[0].Content)
	}
	if strings.Contains(msgs[0].Content, "Current date") {
		t.Error("Perplexity payload must not inject the date line")
	}

	if len(result.Sources) != 1 || result.Sources[0].URL != "https://example.com" {
		t.Errorf("sources = %+v", result.Sources)
	}
}

func TestDecodeCitation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantURL string
		wantOK  bool
	}{
		{name: "bare string", raw: `"https://a.example"`, wantURL: "https://a.example", wantOK: true},
		{name: "object", raw: `{"url":"https://b.example","title":"B"}`, wantURL: "https://b.example", wantOK: true},
		{name: "object name field", raw: `{"url":"https://c.example","name":"C"}`, wantURL: "https://c.example", wantOK: true},
		{name: "empty string", raw: `""`, wantOK: false},
		{name: "object without url", raw: `{"title":"no url"}`, wantOK: false},
		{name: "garbage", raw: `42`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, ok := decodeCitation(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && src.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", src.URL, tt.wantURL)
			}
		})
	}
}
