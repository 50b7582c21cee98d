// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// perplexity.go - Adapter for the Perplexity chat API.
//
// Perplexity speaks the OpenAI /chat/completions dialect, so the shared
// wire plumbing does the heavy lifting. What it adds on top: every
// completion searches the web natively, citations arrive at the chunk
// root (as bare URL strings or objects), and web_search_options tunes
// how much context the search pulls in.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPerplexityBaseURL is the Perplexity API endpoint.
const DefaultPerplexityBaseURL = "https://api.perplexity.ai"

type perplexityChatRequest struct {
	Model            string                      `json:"model"`
	Messages         []oaiMessage                `json:"messages"`
	Stream           bool                        `json:"stream"`
	WebSearchOptions *perplexityWebSearchOptions `json:"web_search_options,omitempty"`
}

type perplexityWebSearchOptions struct {
	SearchContextSize string `json:"search_context_size,omitempty"`
}

// PerplexityAdapter speaks the Perplexity dialect of the OpenAI wire
// format. Search happens server-side on every completion; the adapter
// never sends function tools.
type PerplexityAdapter struct{}

// Call performs a single-shot completion.
func (a *PerplexityAdapter) Call(ctx context.Context, req Request) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}
	return callOpenAIWire(ctx, req.Provider, perplexityEndpoint(req), req.APIKey, a.buildPayload(req, false))
}

// Stream performs a streaming completion.
func (a *PerplexityAdapter) Stream(ctx context.Context, req Request, handlers Handlers) (*StreamResult, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, req.Provider)
	}
	return streamOpenAIWire(ctx, req.Provider, perplexityEndpoint(req), req.APIKey, a.buildPayload(req, true), handlers)
}

func perplexityEndpoint(req Request) string {
	base := strings.TrimSuffix(req.BaseURL, "/")
	if base == "" {
		base = DefaultPerplexityBaseURL
	}
	return base + "/chat/completions"
}

func (a *PerplexityAdapter) buildPayload(req Request, stream bool) *perplexityChatRequest {
	payload := &perplexityChatRequest{
		Model:    req.Model,
		Messages: buildPerplexityMessages(req),
		Stream:   stream,
	}
	if req.NativeWebSearch {
		payload.WebSearchOptions = &perplexityWebSearchOptions{SearchContextSize: "medium"}
	}
	return payload
}

// buildPerplexityMessages translates normalized messages for Perplexity.
// Unlike the OpenAI builder there is no injected date/time line; the
// backend resolves "now" itself when it searches.
func buildPerplexityMessages(req Request) []oaiMessage {
	msgs := sanitizeMessages(req.Messages)
	out := make([]oaiMessage, 0, len(msgs)+1)
	if req.SystemPrompt != "" {
		out = append(out, oaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range msgs {
		out = append(out, translateOpenAIMessage(msg))
	}
	return out
}
