// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the chat-completion adapters for the
// supported LLM backends.
//
// Each backend speaks its own wire dialect: OpenAI-compatible services,
// Perplexity, and Anthropic stream line-delimited `data:` SSE frames,
// while Google Gemini streams bare concatenated JSON objects. The
// adapters normalize all of them onto one contract: a Request in,
// ordered streaming callbacks out, and a StreamResult carrying the
// final text, tool calls, and any provider-native sources.
//
// STREAMING: Robust SSE and JSON-object parsing with partial-result recovery
package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jeranaias/sidekick/internal/model"
)

// =============================================================================
// CONFIGURATION CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the request timeout for single-shot (non-streaming)
	// calls. Streaming requests have no client timeout; their lifetime is
	// controlled by the caller's context.
	DefaultTimeout = 120 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// DefaultMaxTokens is the completion budget sent to providers that
	// require an explicit cap (Anthropic).
	DefaultMaxTokens = 8192
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for single-shot requests across all adapters.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests (no timeout,
	// context-controlled).
	// PERFORMANCE: Connection pooling for streaming requests.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context
	}
)

// =============================================================================
// PROVIDER KINDS
// =============================================================================

// Kind identifies the wire protocol an adapter speaks. Dispatch happens on
// the kind, resolved once per turn, never by re-matching provider id
// strings per call.
type Kind int

const (
	// KindOpenAICompatible covers OpenAI itself and any service exposing
	// the /chat/completions wire format.
	KindOpenAICompatible Kind = iota

	// KindGemini is the Google Generative Language API.
	KindGemini

	// KindAnthropic is the Anthropic Messages API.
	KindAnthropic

	// KindPerplexity is Perplexity's OpenAI-shaped API with built-in
	// web search.
	KindPerplexity

	// KindCustomOpenAICompatible is a user-registered OpenAI-compatible
	// endpoint with its own base URL.
	KindCustomOpenAICompatible
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindOpenAICompatible:
		return "openai-compatible"
	case KindGemini:
		return "gemini"
	case KindAnthropic:
		return "anthropic"
	case KindPerplexity:
		return "perplexity"
	case KindCustomOpenAICompatible:
		return "custom-openai-compatible"
	default:
		return "unknown"
	}
}

// KindForProvider maps a provider id to its wire protocol kind. Unknown
// ids are treated as custom OpenAI-compatible endpoints.
func KindForProvider(providerID string) Kind {
	switch providerID {
	case model.ProviderOpenAI:
		return KindOpenAICompatible
	case model.ProviderGemini:
		return KindGemini
	case model.ProviderAnthropic:
		return KindAnthropic
	case model.ProviderPerplexity:
		return KindPerplexity
	default:
		return KindCustomOpenAICompatible
	}
}

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// ToolDefinition describes one function tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters json.RawMessage
}

// Request is a normalized chat request, provider-agnostic. The adapter
// translates it into the backend's schema.
type Request struct {
	// Provider is the configured provider id, used in errors and logs.
	Provider string

	// Messages is the conversation to complete. UI-only fields are
	// stripped and empty assistant messages dropped before transmission.
	Messages []*model.Message

	// Model is the backend model id.
	Model string

	// APIKey authenticates the request.
	APIKey string

	// BaseURL overrides the provider's default endpoint when non-empty.
	// Trailing slashes are trimmed.
	BaseURL string

	// SystemPrompt is prepended as the system/instruction message when
	// non-empty.
	SystemPrompt string

	// Tools are function definitions the model may call.
	Tools []ToolDefinition

	// NativeWebSearch asks the provider to ground the answer with its
	// built-in search (Gemini grounding, OpenAI web search). Ignored by
	// providers without one.
	NativeWebSearch bool
}

// Handlers carries the streaming side-channel callbacks. Any handler may
// be nil; nil handlers are skipped.
type Handlers struct {
	// OnChunk receives answer text fragments in exact generation order.
	OnChunk func(text string)

	// OnReasoning receives reasoning/thinking fragments for models that
	// emit them.
	OnReasoning func(text string)

	// OnImage receives generated images as data URLs.
	OnImage func(dataURL string)
}

func (h Handlers) chunk(text string) {
	if h.OnChunk != nil && text != "" {
		h.OnChunk(text)
	}
}

func (h Handlers) reasoning(text string) {
	if h.OnReasoning != nil && text != "" {
		h.OnReasoning(text)
	}
}

func (h Handlers) image(dataURL string) {
	if h.OnImage != nil && dataURL != "" {
		h.OnImage(dataURL)
	}
}

// StreamResult is the terminal outcome of a Call or Stream.
type StreamResult struct {
	// Text is the complete answer text, byte-for-byte the concatenation
	// of the OnChunk payloads.
	Text string

	// Reasoning is the accumulated reasoning text, if any.
	Reasoning string

	// ToolCalls are the complete tool invocations the model requested,
	// ordered by first-seen stream index.
	ToolCalls []model.ToolCall

	// Sources are provider-native grounding citations, deduplicated
	// by URL.
	Sources []model.Source
}

// HasToolCalls reports whether the model requested any tool invocations.
func (r *StreamResult) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// =============================================================================
// ADAPTER CONTRACT
// =============================================================================

// Adapter is the provider abstraction: one instance per wire protocol,
// resolved from a Kind once per turn.
type Adapter interface {
	// Call performs a single-shot, non-streaming completion.
	Call(ctx context.Context, req Request) (*StreamResult, error)

	// Stream performs a streaming completion, delivering fragments
	// through handlers as they arrive. The returned StreamResult holds
	// the accumulated outcome; on mid-stream failure the error wraps a
	// StreamError preserving the partial result. Context cancellation
	// aborts the request.
	Stream(ctx context.Context, req Request, handlers Handlers) (*StreamResult, error)
}

// ForKind returns the adapter implementing the given wire protocol.
func ForKind(kind Kind) Adapter {
	switch kind {
	case KindGemini:
		return &GeminiAdapter{}
	case KindAnthropic:
		return &AnthropicAdapter{}
	case KindPerplexity:
		return &PerplexityAdapter{}
	default:
		return &OpenAIAdapter{}
	}
}

// ForProvider resolves a provider id straight to its adapter.
func ForProvider(providerID string) Adapter {
	return ForKind(KindForProvider(providerID))
}
