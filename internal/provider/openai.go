// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// openai.go - Adapter for OpenAI and OpenAI-compatible chat APIs.
//
// The /chat/completions wire format is the lingua franca of the
// ecosystem: OpenAI itself, user-registered custom endpoints, and
// Perplexity all speak it. The shared request/stream plumbing lives
// here; Perplexity layers its search options and citation extraction on
// top.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/sidekick/internal/model"
)

// DefaultOpenAIBaseURL is the OpenAI API endpoint.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// =============================================================================
// WIRE TYPES (OUTBOUND)
// =============================================================================

type oaiChatRequest struct {
	Model            string               `json:"model"`
	Messages         []oaiMessage         `json:"messages"`
	Stream           bool                 `json:"stream"`
	Tools            []oaiTool            `json:"tools,omitempty"`
	WebSearchOptions *oaiWebSearchOptions `json:"web_search_options,omitempty"`
}

// oaiWebSearchOptions enables the provider's built-in web search; an
// empty object requests default behavior.
type oaiWebSearchOptions struct{}

type oaiMessage struct {
	Role string `json:"role"`
	// Content is a plain string, or a part list when an image rides along.
	Content    any           `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiToolFunction `json:"function"`
}

type oaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string        `json:"type"`
	Function oaiToolSchema `json:"function"`
}

type oaiToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// =============================================================================
// WIRE TYPES (INBOUND)
// =============================================================================

type oaiAnnotation struct {
	Type        string `json:"type"`
	URLCitation struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"url_citation"`
}

type oaiInboundImage struct {
	ImageURL oaiImageURL `json:"image_url"`
}

type oaiDeltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// oaiStreamChunk is one streamed SSE frame. The root-level citations and
// search_results fields are Perplexity extensions; other providers leave
// them empty.
type oaiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role             string             `json:"role,omitempty"`
			Content          string             `json:"content"`
			ReasoningContent string             `json:"reasoning_content"`
			Reasoning        string             `json:"reasoning"`
			ToolCalls        []oaiDeltaToolCall `json:"tool_calls"`
			Annotations      []oaiAnnotation    `json:"annotations"`
			Images           []oaiInboundImage  `json:"images"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Citations     []json.RawMessage  `json:"citations"`
	SearchResults []wireSearchResult `json:"search_results"`
}

// oaiChatResponse is the non-streaming completion shape.
type oaiChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role             string            `json:"role"`
			Content          string            `json:"content"`
			ReasoningContent string            `json:"reasoning_content"`
			Reasoning        string            `json:"reasoning"`
			ToolCalls        []oaiToolCall     `json:"tool_calls"`
			Annotations      []oaiAnnotation   `json:"annotations"`
			Images           []oaiInboundImage `json:"images"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Citations     []json.RawMessage  `json:"citations"`
	SearchResults []wireSearchResult `json:"search_results"`
}

type wireSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// OpenAIAdapter speaks the OpenAI /chat/completions wire format. It
// serves both the builtin OpenAI provider and custom OpenAI-compatible
// endpoints; only the base URL differs.
type OpenAIAdapter struct{}

// Call performs a single-shot completion.
func (a *OpenAIAdapter) Call(ctx context.Context, req Request) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}
	return callOpenAIWire(ctx, req.Provider, openAIEndpoint(req), req.APIKey, a.buildPayload(req, false))
}

// Stream performs a streaming completion.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request, handlers Handlers) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}
	return streamOpenAIWire(ctx, req.Provider, openAIEndpoint(req), req.APIKey, a.buildPayload(req, true), handlers)
}

func openAIEndpoint(req Request) string {
	base := strings.TrimSuffix(req.BaseURL, "/")
	if base == "" {
		base = DefaultOpenAIBaseURL
	}
	return base + "/chat/completions"
}

func (a *OpenAIAdapter) buildPayload(req Request, stream bool) *oaiChatRequest {
	payload := &oaiChatRequest{
		Model:    req.Model,
		Messages: buildOpenAIMessages(req, time.Now()),
		Stream:   stream,
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, oaiTool{
			Type: "function",
			Function: oaiToolSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.NativeWebSearch {
		payload.WebSearchOptions = &oaiWebSearchOptions{}
	}
	return payload
}

// buildOpenAIMessages translates normalized messages into the OpenAI
// schema. The system prompt, any leading system message, and the current
// date/time line are merged into a single leading system message.
func buildOpenAIMessages(req Request, now time.Time) []oaiMessage {
	msgs := sanitizeMessages(req.Messages)

	system := req.SystemPrompt
	if len(msgs) > 0 && msgs[0].Role == model.RoleSystem {
		if system == "" {
			system = msgs[0].Content
		} else {
			system = system + "\n\n" + msgs[0].Content
		}
		msgs = msgs[1:]
	}

	out := make([]oaiMessage, 0, len(msgs)+1)
	out = append(out, oaiMessage{
		Role:    "system",
		Content: systemPromptWithDateTime(system, now),
	})

	for _, msg := range msgs {
		out = append(out, translateOpenAIMessage(msg))
	}
	return out
}

// translateOpenAIMessage converts one normalized message into the
// OpenAI schema; shared with the Perplexity adapter.
func translateOpenAIMessage(msg *model.Message) oaiMessage {
	switch msg.Role {
	case model.RoleSystem:
		return oaiMessage{Role: "system", Content: msg.Content}

	case model.RoleTool:
		return oaiMessage{
			Role:       "tool",
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

	case model.RoleAssistant:
		am := oaiMessage{Role: "assistant", Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, oaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaiToolFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return am

	default: // user
		if msg.Image != "" {
			parts := make([]oaiContentPart, 0, 2)
			if msg.Content != "" {
				parts = append(parts, oaiContentPart{Type: "text", Text: msg.Content})
			}
			parts = append(parts, oaiContentPart{
				Type:     "image_url",
				ImageURL: &oaiImageURL{URL: msg.Image},
			})
			return oaiMessage{Role: "user", Content: parts}
		}
		return oaiMessage{Role: "user", Content: msg.Content}
	}
}

// =============================================================================
// SHARED WIRE PLUMBING
// =============================================================================

// callOpenAIWire performs a non-streaming request against an
// OpenAI-shaped endpoint.
func callOpenAIWire(ctx context.Context, providerID, endpoint, apiKey string, payload any) (*StreamResult, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	// PERFORMANCE: Shared HTTP client with connection pooling.
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(providerID, resp)
	}

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	return consumeOpenAIResponse(body, Handlers{})
}

// streamOpenAIWire performs a streaming request against an OpenAI-shaped
// endpoint, firing handlers per fragment. Mid-stream failures return the
// partial result wrapped in a StreamError.
func streamOpenAIWire(ctx context.Context, providerID, endpoint, apiKey string, payload any, handlers Handlers) (*StreamResult, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// PERFORMANCE: Shared streaming client; lifetime is context-controlled.
	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(providerID, resp)
	}

	// RELIABILITY: Some compatible servers answer a stream:true request
	// with a plain JSON body. Deliver it as one synthetic chunk through
	// the same callback path so callers cannot tell the difference.
	if !isEventStream(resp.Header.Get("Content-Type")) {
		body, err := readResponse(resp)
		if err != nil {
			return nil, err
		}
		return consumeOpenAIResponse(body, handlers)
	}

	var text, reasoning strings.Builder
	acc := newToolCallAccumulator()
	sources := newSourceCollector()

	finish := func() *StreamResult {
		return &StreamResult{
			Text:      text.String(),
			Reasoning: reasoning.String(),
			ToolCalls: acc.Calls(),
			Sources:   sources.List(),
		}
	}

	reader := newSSEReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			partial := finish()
			return partial, &StreamError{Partial: partial, Err: ctx.Err()}
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return finish(), nil
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			partial := finish()
			return partial, &StreamError{Partial: partial, Err: err}
		}

		if isDoneSentinel(data) {
			return finish(), nil
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			continue
		}

		for _, raw := range chunk.Citations {
			if src, ok := decodeCitation(raw); ok {
				sources.Add(src)
			}
		}
		for _, sr := range chunk.SearchResults {
			sources.Add(model.Source{Title: sr.Title, URL: sr.URL, Snippet: sr.Snippet})
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			handlers.chunk(delta.Content)
		}
		if r := firstNonEmpty(delta.ReasoningContent, delta.Reasoning); r != "" {
			reasoning.WriteString(r)
			handlers.reasoning(r)
		}
		for _, tc := range delta.ToolCalls {
			acc.Add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
		for _, ann := range delta.Annotations {
			if ann.Type == "url_citation" {
				sources.Add(model.Source{
					Title: ann.URLCitation.Title,
					URL:   ann.URLCitation.URL,
				})
			}
		}
		for _, img := range delta.Images {
			handlers.image(img.ImageURL.URL)
		}
	}
}

// consumeOpenAIResponse folds a complete (non-streamed) completion body
// into a StreamResult, firing handlers once so the callback path is
// identical to streaming.
func consumeOpenAIResponse(body []byte, handlers Handlers) (*StreamResult, error) {
	var resp oaiChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &StreamResult{}
	sources := newSourceCollector()

	for _, raw := range resp.Citations {
		if src, ok := decodeCitation(raw); ok {
			sources.Add(src)
		}
	}
	for _, sr := range resp.SearchResults {
		sources.Add(model.Source{Title: sr.Title, URL: sr.URL, Snippet: sr.Snippet})
	}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message

		result.Text = msg.Content
		handlers.chunk(msg.Content)

		result.Reasoning = firstNonEmpty(msg.ReasoningContent, msg.Reasoning)
		handlers.reasoning(result.Reasoning)

		for _, tc := range msg.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, model.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		for _, ann := range msg.Annotations {
			if ann.Type == "url_citation" {
				sources.Add(model.Source{
					Title: ann.URLCitation.Title,
					URL:   ann.URLCitation.URL,
				})
			}
		}
		for _, img := range msg.Images {
			handlers.image(img.ImageURL.URL)
		}
	}

	result.Sources = sources.List()
	return result, nil
}

// isEventStream reports whether a Content-Type header denotes SSE.
func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "text/event-stream")
	}
	return mediaType == "text/event-stream"
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
