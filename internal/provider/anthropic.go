// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// anthropic.go - Adapter for the Anthropic Messages API.
//
// Anthropic streams typed SSE events rather than bare deltas: text,
// thinking, and tool-use input each arrive as content_block_delta
// variants addressed by block index. Tool-use blocks announce their id
// and name in content_block_start, then drip the argument JSON through
// input_json_delta fragments.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jeranaias/sidekick/internal/model"
)

// DefaultAnthropicBaseURL is the Anthropic API endpoint.
const DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// anthropicVersion pins the Messages API revision.
const anthropicVersion = "2023-06-01"

// =============================================================================
// WIRE TYPES
// =============================================================================

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role string `json:"role"`
	// Content is a plain string, or a block list when the message carries
	// images, tool calls, or tool results.
	Content any `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`

	// type: "text"
	Text string `json:"text,omitempty"`

	// type: "image"
	Source *anthropicImageSource `json:"source,omitempty"`

	// type: "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type: "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// anthropicStreamEvent is the union of the typed SSE events; only the
// fields relevant to the event's type are populated.
type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
}

type anthropicChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type     string          `json:"type"`
		Text     string          `json:"text"`
		Thinking string          `json:"thinking"`
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Input    json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// AnthropicAdapter speaks the Anthropic Messages wire format.
type AnthropicAdapter struct{}

// Call performs a single-shot completion.
func (a *AnthropicAdapter) Call(ctx context.Context, req Request) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}

	resp, err := a.post(ctx, req, false, sharedHTTPClient)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(req.Provider, resp)
	}

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	return consumeAnthropicResponse(body, Handlers{})
}

// Stream performs a streaming completion.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request, handlers Handlers) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}

	resp, err := a.post(ctx, req, true, sharedStreamingClient)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(req.Provider, resp)
	}

	// RELIABILITY: Fall back to single-shot parsing when the server
	// answers with a plain JSON body despite stream:true.
	if !isEventStream(resp.Header.Get("Content-Type")) {
		body, err := readResponse(resp)
		if err != nil {
			return nil, err
		}
		return consumeAnthropicResponse(body, handlers)
	}

	var text, reasoning strings.Builder
	acc := newToolCallAccumulator()

	finish := func() *StreamResult {
		return &StreamResult{
			Text:      text.String(),
			Reasoning: reasoning.String(),
			ToolCalls: acc.Calls(),
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

		var event anthropicStreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			// Skip malformed events
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				acc.Add(event.Index, event.ContentBlock.ID, event.ContentBlock.Name, "")
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					text.WriteString(event.Delta.Text)
					handlers.chunk(event.Delta.Text)
				}
			case "thinking_delta":
				if event.Delta.Thinking != "" {
					reasoning.WriteString(event.Delta.Thinking)
					handlers.reasoning(event.Delta.Thinking)
				}
			case "input_json_delta":
				acc.Add(event.Index, "", "", event.Delta.PartialJSON)
			}

		case "message_stop":
			return finish(), nil

		case "error":
			// In-band failure; the data doubles as an error envelope.
			partial := finish()
			return partial, &StreamError{Partial: partial, Err: decodeErrorBody(req.Provider, 0, data)}
		}
	}
}

func (a *AnthropicAdapter) post(ctx context.Context, req Request, stream bool, client *http.Client) (*http.Response, error) {
	bodyBytes, err := json.Marshal(buildAnthropicPayload(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := strings.TrimSuffix(req.BaseURL, "/")
	if base == "" {
		base = DefaultAnthropicBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// =============================================================================
// REQUEST TRANSLATION
// =============================================================================

func buildAnthropicPayload(req Request, stream bool) *anthropicChatRequest {
	payload := &anthropicChatRequest{
		Model:     req.Model,
		MaxTokens: DefaultMaxTokens,
		Stream:    stream,
	}

	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	for _, msg := range sanitizeMessages(req.Messages) {
		switch msg.Role {
		case model.RoleSystem:
			// System text rides the top-level field, not the message list.
			systemParts = append(systemParts, msg.Content)

		case model.RoleTool:
			payload.Messages = append(payload.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				payload.Messages = append(payload.Messages, anthropicMessage{
					Role:    "assistant",
					Content: msg.Content,
				})
				continue
			}
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			payload.Messages = append(payload.Messages, anthropicMessage{Role: "assistant", Content: blocks})

		default: // user
			if mimeType, data, ok := splitDataURL(msg.Image); ok {
				blocks := make([]anthropicContentBlock, 0, 2)
				if msg.Content != "" {
					blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
				}
				blocks = append(blocks, anthropicContentBlock{
					Type: "image",
					Source: &anthropicImageSource{
						Type:      "base64",
						MediaType: mimeType,
						Data:      data,
					},
				})
				payload.Messages = append(payload.Messages, anthropicMessage{Role: "user", Content: blocks})
			} else {
				payload.Messages = append(payload.Messages, anthropicMessage{Role: "user", Content: msg.Content})
			}
		}
	}

	payload.System = strings.Join(systemParts, "\n\n")

	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return payload
}

// =============================================================================
// RESPONSE CONSUMPTION
// =============================================================================

// consumeAnthropicResponse folds a complete Messages response into a
// StreamResult, firing handlers once.
func consumeAnthropicResponse(body []byte, handlers Handlers) (*StreamResult, error) {
	var resp anthropicChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &StreamResult{}
	var text, reasoning strings.Builder

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
			handlers.chunk(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
			handlers.reasoning(block.Thinking)
		case "tool_use":
			args := strings.TrimSpace(string(block.Input))
			if args == "" {
				args = "{}"
			}
			result.ToolCalls = append(result.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	result.Text = text.String()
	result.Reasoning = reasoning.String()
	return result, nil
}
