// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/provider"
	"github.com/jeranaias/sidekick/internal/storage"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// sseChatServer answers each successive POST with the next scripted SSE
// frame list, repeating the last script when requests outnumber scripts.
func sseChatServer(t *testing.T, requests *atomic.Int32, inspect func(n int, body []byte), scripts ...[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(requests.Add(1)) - 1

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if inspect != nil {
			inspect(n, body)
		}

		script := scripts[len(scripts)-1]
		if n < len(scripts) {
			script = scripts[n]
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, frame := range script {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			fl.Flush()
		}
	}))
}

// searchServer serves a one-shot Perplexity-style completion.
func searchServer(t *testing.T, content string, citations ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices":   []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
			"citations": citations,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

// testSessionConfig wires the chat provider at chatURL and, when
// searchURL is non-empty, a Perplexity search backend at searchURL. The
// chat model is deliberately outside the GPT family so search goes
// through the tool loop rather than natively.
func testSessionConfig(chatURL, searchURL string) *config.Config {
	cfg := config.Default()
	cfg.DefaultProvider = model.ProviderOpenAI
	cfg.Providers.OpenAI.APIKeys = []string{"sk-test"}
	cfg.Providers.OpenAI.BaseURL = chatURL
	cfg.Providers.OpenAI.Model = "o3-mini"
	cfg.WebSearch.RatePerSecond = 1000
	cfg.WebSearch.RateBurst = 1000
	if searchURL != "" {
		cfg.WebSearch.Backend = "perplexity"
		cfg.Providers.Perplexity.APIKeys = []string{"pplx-test"}
		cfg.Providers.Perplexity.BaseURL = searchURL
	} else {
		cfg.WebSearch.Enabled = false
	}
	return cfg
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	return NewSession(keyring.NewRotator(store))
}

func userTurn(content string) []*model.Message {
	return []*model.Message{model.NewUserMessage(content)}
}

// Scripted SSE frames.
const (
	frameDone = "[DONE]"
)

func textFrame(text string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": text}}},
	})
	return string(data)
}

func toolCallFrames(callID, query string) []string {
	args, _ := json.Marshal(map[string]string{"query": query})
	return []string{
		fmt.Sprintf(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":%q,"function":{"name":"web_search","arguments":%q}}]}}]}`,
			callID, string(args)),
		frameDone,
	}
}

// =============================================================================
// PLAIN TURN TESTS
// =============================================================================

func TestSession_PlainTurn(t *testing.T) {
	var requests atomic.Int32
	server := sseChatServer(t, &requests, func(n int, body []byte) {
		payload := make(map[string]any)
		require.NoError(t, json.Unmarshal(body, &payload))
		if _, ok := payload["tools"]; ok {
			t.Error("payload should not offer tools when search is disabled")
		}
	}, []string{textFrame("Hello"), textFrame(" there"), frameDone})
	defer server.Close()

	var chunks []string
	result := newTestSession(t).Open(context.Background(), userTurn("hi"), testSessionConfig(server.URL, ""), Handlers{
		OnChunk: func(text string) { chunks = append(chunks, text) },
	})

	require.NoError(t, result.Err)
	if result.Text != "Hello there" {
		t.Errorf("Text = %q, want %q", result.Text, "Hello there")
	}
	if len(chunks) != 2 || chunks[0] != "Hello" {
		t.Errorf("chunks = %v", chunks)
	}
	if result.Interrupted {
		t.Error("Interrupted should be false")
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
}

func TestSession_NoKeyConfigured(t *testing.T) {
	cfg := testSessionConfig("http://unused", "")
	cfg.Providers.OpenAI.APIKeys = nil

	result := newTestSession(t).Open(context.Background(), userTurn("hi"), cfg, Handlers{})
	if !errors.Is(result.Err, provider.ErrNotConfigured) {
		t.Errorf("Err = %v, want ErrNotConfigured", result.Err)
	}
}

// =============================================================================
// TOOL-CALL LOOP TESTS
// =============================================================================

func TestSession_ToolCallLoop(t *testing.T) {
	search := searchServer(t, "Sunny, 25C.", "https://weather.example.com/tokyo")
	defer search.Close()

	var requests atomic.Int32
	chat := sseChatServer(t, &requests, func(n int, body []byte) {
		if n != 1 {
			return
		}
		// The follow-up request must fold the round back: synthetic
		// assistant tool_calls, the tool result, and the tool re-offered.
		var payload struct {
			Messages []struct {
				Role       string          `json:"role"`
				Content    any             `json:"content"`
				ToolCallID string          `json:"tool_call_id"`
				ToolCalls  json.RawMessage `json:"tool_calls"`
			} `json:"messages"`
			Tools json.RawMessage `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))

		if len(payload.Tools) == 0 {
			t.Error("follow-up should re-include the tool definition")
		}

		var sawAssistantCall, sawToolResult bool
		for _, msg := range payload.Messages {
			if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
				sawAssistantCall = true
			}
			if msg.Role == "tool" && msg.ToolCallID == "call_1" {
				sawToolResult = true
				content, _ := msg.Content.(string)
				if !strings.Contains(content, "[Search results for: tokyo weather]") {
					t.Errorf("tool content missing label: %q", content)
				}
				if !strings.Contains(content, "Sunny, 25C.") {
					t.Errorf("tool content missing search answer: %q", content)
				}
			}
		}
		if !sawAssistantCall {
			t.Error("follow-up missing the synthetic assistant tool_calls message")
		}
		if !sawToolResult {
			t.Error("follow-up missing the tool result message")
		}
	},
		append([]string{textFrame("Let me check.")}, toolCallFrames("call_1", "tokyo weather")...),
		[]string{textFrame("It is sunny in Tokyo."), frameDone},
	)
	defer chat.Close()

	var trace []string
	var events []SearchEvent
	handlers := Handlers{
		OnChunk: func(text string) { trace = append(trace, "chunk:"+text) },
		OnWebSearch: func(ev SearchEvent) {
			events = append(events, ev)
			switch {
			case ev.StartNewMessage:
				trace = append(trace, "boundary")
			case ev.IsSearching:
				trace = append(trace, "searching:"+ev.Query)
			default:
				trace = append(trace, "result:"+ev.Query)
			}
		},
	}

	result := newTestSession(t).Open(context.Background(), userTurn("weather in tokyo?"), testSessionConfig(chat.URL, search.URL), handlers)
	require.NoError(t, result.Err)

	if result.Text != "Let me check.It is sunny in Tokyo." {
		t.Errorf("Text = %q", result.Text)
	}
	if requests.Load() != 2 {
		t.Errorf("chat requests = %d, want 2", requests.Load())
	}

	wantTrace := []string{
		"chunk:Let me check.",
		"searching:tokyo weather",
		"result:tokyo weather",
		"boundary",
		"chunk:It is sunny in Tokyo.",
	}
	require.Equal(t, wantTrace, trace)

	// The completion event carries the search result and its sources.
	var completion *SearchEvent
	for i := range events {
		if !events[i].IsSearching && !events[i].StartNewMessage {
			completion = &events[i]
		}
	}
	require.NotNil(t, completion)
	require.NotNil(t, completion.Result)
	if completion.Result.Content != "Sunny, 25C." {
		t.Errorf("completion content = %q", completion.Result.Content)
	}
	require.Len(t, completion.Result.Sources, 1)
}

func TestSession_SingleBoundaryAcrossRounds(t *testing.T) {
	search := searchServer(t, "intermediate facts")
	defer search.Close()

	var requests atomic.Int32
	chat := sseChatServer(t, &requests, nil,
		toolCallFrames("call_1", "first query"),
		toolCallFrames("call_2", "second query"),
		[]string{textFrame("Final answer."), frameDone},
	)
	defer chat.Close()

	var boundaries []SearchEvent
	result := newTestSession(t).Open(context.Background(), userTurn("dig deep"), testSessionConfig(chat.URL, search.URL), Handlers{
		OnWebSearch: func(ev SearchEvent) {
			if ev.StartNewMessage {
				boundaries = append(boundaries, ev)
			}
		},
	})
	require.NoError(t, result.Err)

	require.Len(t, boundaries, 1)
	// The boundary belongs to the last round before the text arrived.
	if boundaries[0].Query != "second query" {
		t.Errorf("boundary query = %q, want %q", boundaries[0].Query, "second query")
	}
	if result.Text != "Final answer." {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestSession_IterationCap(t *testing.T) {
	search := searchServer(t, "more results")
	defer search.Close()

	var requests atomic.Int32
	// The model never stops asking for searches.
	chat := sseChatServer(t, &requests, nil, toolCallFrames("call_x", "again"))
	defer chat.Close()

	var boundaries int
	result := newTestSession(t).Open(context.Background(), userTurn("loop forever"), testSessionConfig(chat.URL, search.URL), Handlers{
		OnWebSearch: func(ev SearchEvent) {
			if ev.StartNewMessage {
				boundaries++
			}
		},
	})

	// The cap stops the loop silently: no error, accumulated (empty)
	// text returned.
	require.NoError(t, result.Err)
	if got := requests.Load(); got != 6 {
		t.Errorf("chat requests = %d, want 6 (initial + 5 follow-ups)", got)
	}
	if boundaries != 0 {
		t.Errorf("boundaries = %d, want 0 (no follow-up text ever arrived)", boundaries)
	}
}

func TestSession_BatchQueriesFanOut(t *testing.T) {
	var searches atomic.Int32
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"a result"}}]}`))
	}))
	defer search.Close()

	args := `{\"queries\":[\"alpha\",\"beta\",\"gamma\"]}`
	var requests atomic.Int32
	chat := sseChatServer(t, &requests, func(n int, body []byte) {
		if n != 1 {
			return
		}
		var payload struct {
			Messages []struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		for _, msg := range payload.Messages {
			if msg.Role != "tool" {
				continue
			}
			content, _ := msg.Content.(string)
			// All three query results fold into the one tool message.
			for _, q := range []string{"alpha", "beta", "gamma"} {
				if !strings.Contains(content, "[Search results for: "+q+"]") {
					t.Errorf("folded content missing %q section", q)
				}
			}
		}
	},
		[]string{
			fmt.Sprintf(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_b","function":{"name":"web_search","arguments":"%s"}}]}}]}`, args),
			frameDone,
		},
		[]string{textFrame("Combined answer."), frameDone},
	)
	defer chat.Close()

	var started, completed int
	result := newTestSession(t).Open(context.Background(), userTurn("compare things"), testSessionConfig(chat.URL, search.URL), Handlers{
		OnWebSearch: func(ev SearchEvent) {
			switch {
			case ev.IsSearching:
				started++
			case !ev.StartNewMessage:
				completed++
			}
		},
	})
	require.NoError(t, result.Err)

	if searches.Load() != 3 {
		t.Errorf("search backend requests = %d, want 3", searches.Load())
	}
	if started != 3 || completed != 3 {
		t.Errorf("statuses = %d started / %d completed, want 3/3", started, completed)
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

func TestSession_CancelDuringStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", textFrame("partial "))
		fl.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	s := newTestSession(t)
	result := s.Open(context.Background(), userTurn("hi"), testSessionConfig(server.URL, ""), Handlers{
		OnChunk: func(text string) { s.Cancel() },
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
	if !result.Interrupted {
		t.Error("Interrupted should be set on cancellation")
	}
	if result.Text != "partial " {
		t.Errorf("Text = %q, want the partial text preserved", result.Text)
	}
}

func TestSession_NewTurnAbortsPrevious(t *testing.T) {
	firstStarted := make(chan struct{})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		if n == 1 {
			fmt.Fprintf(w, "data: %s\n\n", textFrame("first "))
			fl.Flush()
			close(firstStarted)
			<-r.Context().Done()
			return
		}
		fmt.Fprintf(w, "data: %s\n\ndata: %s\n\n", textFrame("second"), frameDone)
		fl.Flush()
	}))
	defer server.Close()

	s := newTestSession(t)
	cfg := testSessionConfig(server.URL, "")

	firstResult := make(chan Result, 1)
	go func() {
		firstResult <- s.Open(context.Background(), userTurn("one"), cfg, Handlers{})
	}()

	<-firstStarted
	second := s.Open(context.Background(), userTurn("two"), cfg, Handlers{})
	require.NoError(t, second.Err)
	if second.Text != "second" {
		t.Errorf("second turn Text = %q", second.Text)
	}

	first := <-firstResult
	if !errors.Is(first.Err, context.Canceled) {
		t.Errorf("first turn Err = %v, want context.Canceled", first.Err)
	}
	if !first.Interrupted {
		t.Error("first turn should be marked interrupted")
	}
}

// =============================================================================
// QUOTA AND NATIVE SEARCH TESTS
// =============================================================================

func TestSession_QuotaErrorMarksKeyExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"You exceeded your current quota","code":"insufficient_quota"}}`))
	}))
	defer server.Close()

	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	rotator := keyring.NewRotator(store)

	result := NewSession(rotator).Open(context.Background(), userTurn("hi"), testSessionConfig(server.URL, ""), Handlers{})

	if !errors.Is(result.Err, provider.ErrRateLimited) {
		t.Errorf("Err = %v, want ErrRateLimited", result.Err)
	}

	exhausted := rotator.Exhausted(context.Background(), model.ProviderOpenAI)
	require.Len(t, exhausted, 1)
	if exhausted[0].Key != "sk-test" {
		t.Errorf("exhausted key = %q, want sk-test", exhausted[0].Key)
	}
}

func TestSession_NativeSearchBypassesLoop(t *testing.T) {
	var requests atomic.Int32
	server := sseChatServer(t, &requests, func(n int, body []byte) {
		payload := make(map[string]any)
		require.NoError(t, json.Unmarshal(body, &payload))
		if _, ok := payload["web_search_options"]; !ok {
			t.Error("payload should request native web search")
		}
		if _, ok := payload["tools"]; ok {
			t.Error("native search must not offer the function tool")
		}
	}, []string{
		`{"choices":[{"delta":{"content":"Grounded answer.","annotations":[{"type":"url_citation","url_citation":{"url":"https://cited.example.com","title":"Cited"}}]}}]}`,
		frameDone,
	})
	defer server.Close()

	cfg := testSessionConfig(server.URL, "")
	cfg.WebSearch.Enabled = true
	cfg.Providers.OpenAI.Model = "gpt-4o"

	var searchEvents int
	result := newTestSession(t).Open(context.Background(), userTurn("latest news"), cfg, Handlers{
		OnWebSearch: func(ev SearchEvent) { searchEvents++ },
	})
	require.NoError(t, result.Err)

	if result.Text != "Grounded answer." {
		t.Errorf("Text = %q", result.Text)
	}
	require.Len(t, result.Sources, 1)
	if result.Sources[0].URL != "https://cited.example.com" {
		t.Errorf("Sources[0].URL = %q", result.Sources[0].URL)
	}
	if searchEvents != 0 {
		t.Errorf("search events = %d, want 0 for native bypass", searchEvents)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
}
