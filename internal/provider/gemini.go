// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// gemini.go - Adapter for the Google Gemini generateContent API.
//
// Gemini differs from the SSE providers in two ways that shape this
// file: the streaming endpoint emits bare concatenated JSON objects
// (wrapped in array punctuation, objects spanning chunk boundaries)
// instead of data: frames, and function calls arrive whole with no id,
// so ids are synthesized locally.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/sidekick/internal/model"
)

// DefaultGeminiBaseURL is the Google Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// =============================================================================
// WIRE TYPES
// =============================================================================

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}            `json:"google_search,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// geminiResponse is one generateContent object; the streaming endpoint
// emits a sequence of these. An error object can appear in place of
// candidates, including mid-stream.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Role  string       `json:"role"`
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web struct {
					URI     string `json:"uri"`
					Title   string `json:"title"`
					Snippet string `json:"snippet"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Status  string          `json:"status"`
	} `json:"error"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// GeminiAdapter speaks the Google generateContent wire format.
type GeminiAdapter struct{}

// Call performs a single-shot completion.
func (a *GeminiAdapter) Call(ctx context.Context, req Request) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}
	return a.do(ctx, req, "generateContent", Handlers{})
}

// Stream performs a streaming completion.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request, handlers Handlers) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}
	return a.do(ctx, req, "streamGenerateContent", handlers)
}

// do runs one request against the named method. The same JSON-object
// reader consumes both variants: the non-streaming body is simply a
// stream of length one.
func (a *GeminiAdapter) do(ctx context.Context, req Request, method string, handlers Handlers) (*StreamResult, error) {
	payload := buildGeminiPayload(req)
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, geminiEndpoint(req, method), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(req.Provider, resp)
	}

	state := newGeminiStreamState(handlers)
	reader := newJSONObjectReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			partial := state.result()
			return partial, &StreamError{Partial: partial, Err: ctx.Err()}
		default:
		}

		obj, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return state.result(), nil
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			partial := state.result()
			return partial, &StreamError{Partial: partial, Err: err}
		}

		var chunk geminiResponse
		if err := json.Unmarshal(obj, &chunk); err != nil {
			// Skip malformed objects
			continue
		}

		if chunk.Error != nil {
			// RELIABILITY: Gemini reports quota and validation failures as
			// an error object inside an HTTP 200 stream.
			partial := state.result()
			return partial, &StreamError{Partial: partial, Err: geminiStreamFailure(req.Provider, obj, &chunk)}
		}

		state.consume(&chunk)
	}
}

func geminiEndpoint(req Request, method string) string {
	base := strings.TrimSuffix(req.BaseURL, "/")
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	return fmt.Sprintf("%s/models/%s:%s?key=%s", base, req.Model, method, url.QueryEscape(req.APIKey))
}

// geminiStreamFailure maps an in-band error object onto the shared
// taxonomy. The numeric code doubles as an HTTP status.
func geminiStreamFailure(providerID string, raw []byte, chunk *geminiResponse) error {
	status := 0
	if code, err := strconv.Atoi(strings.Trim(string(chunk.Error.Code), `"`)); err == nil {
		status = code
	}
	return decodeErrorBody(providerID, status, raw)
}

// =============================================================================
// REQUEST TRANSLATION
// =============================================================================

func buildGeminiPayload(req Request) *geminiRequest {
	payload := &geminiRequest{}

	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	// Tool-call ids are a local invention for Gemini; remember which name
	// each id belongs to so tool results can be routed back by name.
	callNames := make(map[string]string)

	for _, msg := range sanitizeMessages(req.Messages) {
		switch msg.Role {
		case model.RoleSystem:
			// Gemini carries system text out-of-band in systemInstruction.
			systemParts = append(systemParts, msg.Content)

		case model.RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = "web_search"
			}
			payload.Contents = append(payload.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     name,
						Response: map[string]any{"content": msg.Content},
					},
				}},
			})

		case model.RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Name,
						Args: json.RawMessage(tc.Arguments),
					},
				})
			}
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: parts})

		default: // user
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			if mimeType, data, ok := splitDataURL(msg.Image); ok {
				parts = append(parts, geminiPart{
					InlineData: &geminiInlineData{MimeType: mimeType, Data: data},
				})
			}
			if len(parts) == 0 {
				parts = append(parts, geminiPart{Text: ""})
			}
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: parts})
		}
	}

	if len(systemParts) > 0 {
		payload.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, geminiTool{
			FunctionDeclarations: []geminiFunctionDecl{{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			}},
		})
	}
	if req.NativeWebSearch {
		payload.Tools = append(payload.Tools, geminiTool{GoogleSearch: &struct{}{}})
	}

	return payload
}

// =============================================================================
// RESPONSE CONSUMPTION
// =============================================================================

type geminiStreamState struct {
	text      strings.Builder
	reasoning strings.Builder
	calls     []model.ToolCall
	sources   *sourceCollector
	handlers  Handlers
}

func newGeminiStreamState(handlers Handlers) *geminiStreamState {
	return &geminiStreamState{sources: newSourceCollector(), handlers: handlers}
}

// consume folds one response object into the accumulated state, firing
// handlers for each visible fragment.
func (s *geminiStreamState) consume(resp *geminiResponse) {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := strings.TrimSpace(string(part.FunctionCall.Args))
				if args == "" {
					args = "{}"
				}
				s.calls = append(s.calls, model.ToolCall{
					ID:        "call_" + uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})

			case part.InlineData != nil:
				s.handlers.image("data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data)

			case part.Text != "":
				if part.Thought {
					s.reasoning.WriteString(part.Text)
					s.handlers.reasoning(part.Text)
				} else {
					s.text.WriteString(part.Text)
					s.handlers.chunk(part.Text)
				}
			}
		}

		for _, gc := range cand.GroundingMetadata.GroundingChunks {
			s.sources.Add(model.Source{
				Title:   gc.Web.Title,
				URL:     gc.Web.URI,
				Snippet: gc.Web.Snippet,
			})
		}
	}
}

func (s *geminiStreamState) result() *StreamResult {
	return &StreamResult{
		Text:      s.text.String(),
		Reasoning: s.reasoning.String(),
		ToolCalls: s.calls,
		Sources:   s.sources.List(),
	}
}
