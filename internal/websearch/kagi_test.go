// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// RESPONSE PARSING TESTS
// =============================================================================

func TestParseKagiResponse_WellFormed(t *testing.T) {
	body := "stream_start\n" +
		"new_message.json: {\"md\":\"Go 1.23 shipped in August 2024.\"," +
		"\"references_md\":\"[^1]: [Go Blog](https://go.dev/blog/go1.23)\\n" +
		"[^2]: [Release Notes](https://go.dev/doc/go1.23)\"}"

	result := parseKagiResponse(body)

	if result.Content != "Go 1.23 shipped in August 2024." {
		t.Errorf("Content = %q", result.Content)
	}
	require.Len(t, result.Sources, 2)
	if result.Sources[0].Title != "Go Blog" || result.Sources[0].URL != "https://go.dev/blog/go1.23" {
		t.Errorf("Sources[0] = %+v", result.Sources[0])
	}
	if result.Sources[1].Title != "Release Notes" {
		t.Errorf("Sources[1] = %+v", result.Sources[1])
	}
}

func TestParseKagiResponse_LastMarkerWins(t *testing.T) {
	body := "new_message.json: {\"md\":\"partial\"}\n" +
		"heartbeat\n" +
		"new_message.json: {\"md\":\"complete answer\"}"

	result := parseKagiResponse(body)
	if result.Content != "complete answer" {
		t.Errorf("Content = %q, want the last payload", result.Content)
	}
}

func TestParseKagiResponse_TrailingGarbageTrimmed(t *testing.T) {
	// Stream noise after the payload breaks a naive parse; trimming to
	// the last closing brace recovers it.
	body := "new_message.json: {\"md\":\"the answer\"}\nstream_end trailing noise"

	result := parseKagiResponse(body)
	if result.Content != "the answer" {
		t.Errorf("Content = %q, want recovery via brace trim", result.Content)
	}
}

func TestParseKagiResponse_TruncatedFallsBackToScrape(t *testing.T) {
	// Body cut off before the object closes: structured parsing cannot
	// recover, but the md span is intact and scrapeable.
	body := `new_message.json: {"md":"Line one\nLine \"two\" with a backslash \\","references_md":"[^1]: [T](http`

	result := parseKagiResponse(body)
	want := "Line one\nLine \"two\" with a backslash \\"
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestParseKagiResponse_RawFallback(t *testing.T) {
	body := "Sorry, something went wrong on our end."

	result := parseKagiResponse(body)
	if result.Content != body {
		t.Errorf("Content = %q, want the raw body", result.Content)
	}
}

func TestParseKagiResponse_EmptyBody(t *testing.T) {
	result := parseKagiResponse("   \n  ")
	if !strings.Contains(result.Content, "empty response") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestKagiReferences(t *testing.T) {
	refs := "[^1]: [First](https://a.example.com/x)\n" +
		"[^2]: [](https://b.example.com)\n" +
		"not a reference line\n" +
		"[^3]: [Third (nested)](https://c.example.com/path?q=1)"

	sources := kagiReferences(refs)
	require.Len(t, sources, 3)

	if sources[0].Title != "First" || sources[0].URL != "https://a.example.com/x" {
		t.Errorf("sources[0] = %+v", sources[0])
	}
	if sources[1].Title != "" {
		t.Errorf("sources[1].Title = %q, want empty", sources[1].Title)
	}
	if sources[2].URL != "https://c.example.com/path?q=1" {
		t.Errorf("sources[2].URL = %q", sources[2].URL)
	}
}

func TestKagiUnescape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"newline", `a\nb`, "a\nb"},
		{"quote", `say \"hi\"`, `say "hi"`},
		{"backslash", `c:\\temp`, `c:\temp`},
		{"escaped backslash then n stays literal", `a\\nb`, `a\nb`},
		{"plain text untouched", "no escapes", "no escapes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kagiUnescape(tt.in); got != tt.want {
				t.Errorf("kagiUnescape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestExecutor_KagiBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("kagi_session")
		if err != nil || cookie.Value != "session-token" {
			t.Errorf("kagi_session cookie = %v, %v", cookie, err)
		}
		w.Write([]byte("new_message.json: {\"md\":\"cookie-authenticated answer\"," +
			"\"references_md\":\"[^1]: [Ref](https://ref.example.com)\"}"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.WebSearch.Backend = BackendKagi
	cfg.WebSearch.KagiSession = "session-token"

	e := NewExecutor(cfg)
	e.kagiURL = server.URL

	result, err := e.Execute(context.Background(), "anything")
	require.NoError(t, err)

	if result.Content != "cookie-authenticated answer" {
		t.Errorf("Content = %q", result.Content)
	}
	require.Len(t, result.Sources, 1)
}

func TestExecutor_KagiHTTPErrorDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("session expired"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.WebSearch.Backend = BackendKagi
	cfg.WebSearch.KagiSession = "stale"

	e := NewExecutor(cfg)
	e.kagiURL = server.URL

	result, err := e.Execute(context.Background(), "anything")
	require.NoError(t, err)

	if !strings.Contains(result.Content, "web search failed") ||
		!strings.Contains(result.Content, "403") {
		t.Errorf("Content = %q, want embedded HTTP failure", result.Content)
	}
}

func TestExecutor_KagiNoCookieDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.WebSearch.Backend = BackendKagi

	result, err := NewExecutor(cfg).Execute(context.Background(), "anything")
	require.NoError(t, err)

	if !strings.Contains(result.Content, "no Kagi session cookie") {
		t.Errorf("Content = %q", result.Content)
	}
}
