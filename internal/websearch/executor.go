// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/logging"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/provider"
)

// =============================================================================
// BACKENDS
// =============================================================================

// Search backend identifiers, as stored in web_search.backend.
const (
	BackendPerplexity = "perplexity"
	BackendKagi       = "kagi"
	BackendGoogle     = "google"
)

// searchSystemPrompt steers the one-shot completion backends toward
// search-style answers.
const searchSystemPrompt = "You are a web search assistant. Answer the query " +
	"using current information from the web. Be concise and factual, and cite sources."

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// ToolName is the function name offered to models for the search tool.
const ToolName = "web_search"

// Tool returns the function definition advertised to tool-calling models.
func Tool() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name: ToolName,
		Description: "Search the web for current information. Use this for recent " +
			"events, facts that may have changed, or anything outside your training data.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "A single search query"
				},
				"queries": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Multiple search queries to run in parallel"
				}
			}
		}`),
	}
}

// Arguments is the decoded argument payload of one web_search tool call.
// Models emit either a single query or a batch; both are accepted.
type Arguments struct {
	Query   string   `json:"query,omitempty"`
	Queries []string `json:"queries,omitempty"`
}

// Flatten returns the non-empty queries the call carries, batch form
// first.
func (a Arguments) Flatten() []string {
	var out []string
	for _, q := range a.Queries {
		if s := strings.TrimSpace(q); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		if s := strings.TrimSpace(a.Query); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// GATING
// =============================================================================

// NativeSearch reports whether the chat provider itself can ground the
// answer, so the function-calling loop is bypassed entirely.
func NativeSearch(cfg *config.Config, chatProvider, modelID string) bool {
	switch {
	case chatProvider == model.ProviderGemini:
		// Grounding ships with the API; the chat key is enough.
		return true
	case chatProvider == model.ProviderOpenAI || cfg.IsCustom(chatProvider):
		return model.IsGPTFamily(modelID)
	}
	return false
}

// ShouldEnable reports whether web search should be active for a turn on
// the given chat provider and model: search is not disabled, the chat
// provider does not already search natively on every completion
// (Perplexity), and either the provider grounds natively or some backend
// credential is configured.
func ShouldEnable(cfg *config.Config, chatProvider, modelID string) bool {
	if !cfg.WebSearch.Enabled {
		return false
	}
	if chatProvider == model.ProviderPerplexity {
		return false
	}
	if NativeSearch(cfg, chatProvider, modelID) {
		return true
	}
	return hasBackendCredential(cfg)
}

// hasBackendCredential reports whether any search backend has a usable
// credential.
func hasBackendCredential(cfg *config.Config) bool {
	return len(cfg.ProviderKeys(model.ProviderPerplexity)) > 0 ||
		cfg.WebSearch.KagiSession != "" ||
		len(cfg.ProviderKeys(model.ProviderGemini)) > 0
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs search queries against the configured backend. Failures
// degrade to a descriptive string in WebSearchResult.Content so a bad
// search never fails the surrounding turn; only context cancellation
// propagates as an error.
type Executor struct {
	cfg     *config.Config
	limiter *rate.Limiter
	log     zerolog.Logger
	kagiURL string
}

// NewExecutor creates an executor for the given configuration. The
// token-bucket limiter bounds concurrent fan-out so a multi-query batch
// cannot hammer a backend.
func NewExecutor(cfg *config.Config) *Executor {
	return &Executor{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.WebSearch.RatePerSecond), cfg.WebSearch.RateBurst),
		log:     logging.Component("websearch"),
		kagiURL: KagiEndpoint,
	}
}

// Backend returns the backend Execute will dispatch to: the configured
// one, else the first with a usable credential.
func (e *Executor) Backend() string {
	if b := e.cfg.WebSearch.Backend; b != "" {
		return b
	}
	if len(e.cfg.ProviderKeys(model.ProviderPerplexity)) > 0 {
		return BackendPerplexity
	}
	if e.cfg.WebSearch.KagiSession != "" {
		return BackendKagi
	}
	if len(e.cfg.ProviderKeys(model.ProviderGemini)) > 0 {
		return BackendGoogle
	}
	return BackendPerplexity
}

// Execute runs one query and returns its normalized result. The error
// return is non-nil only for context cancellation.
func (e *Executor) Execute(ctx context.Context, query string) (*model.WebSearchResult, error) {
	query = norm.NFC.String(strings.TrimSpace(query))
	if query == "" {
		return &model.WebSearchResult{Content: "web search failed: empty query"}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &model.WebSearchResult{Content: fmt.Sprintf("web search failed: %v", err)}, nil
	}

	backend := e.Backend()
	e.log.Debug().Str("backend", backend).Str("query", query).Msg("executing web search")

	switch backend {
	case BackendKagi:
		return e.searchKagi(ctx, query)
	case BackendGoogle:
		return e.searchGoogle(ctx, query)
	default:
		return e.searchPerplexity(ctx, query)
	}
}

// searchPerplexity answers via a one-shot completion against a
// search-oriented Perplexity model; the completion itself performs the
// web search and returns citations.
func (e *Executor) searchPerplexity(ctx context.Context, query string) (*model.WebSearchResult, error) {
	keys := e.cfg.ProviderKeys(model.ProviderPerplexity)
	if len(keys) == 0 {
		return &model.WebSearchResult{
			Content: "web search unavailable: no Perplexity API key configured",
		}, nil
	}

	searchModel := e.cfg.WebSearch.PerplexityModel
	if searchModel == "" {
		searchModel = "sonar"
	}

	req := provider.Request{
		Provider:     model.ProviderPerplexity,
		Model:        searchModel,
		APIKey:       keys[0],
		BaseURL:      e.cfg.ProviderBaseURL(model.ProviderPerplexity),
		SystemPrompt: searchSystemPrompt,
		Messages:     []*model.Message{model.NewMessage(model.RoleUser, query)},
	}

	res, err := provider.ForKind(provider.KindPerplexity).Call(ctx, req)
	if err != nil {
		return e.degrade(BackendPerplexity, query, err)
	}
	return &model.WebSearchResult{Content: res.Text, Sources: res.Sources}, nil
}

// searchGoogle answers via a one-shot Gemini completion with the native
// search tool attached; sources come from the grounding metadata.
func (e *Executor) searchGoogle(ctx context.Context, query string) (*model.WebSearchResult, error) {
	keys := e.cfg.ProviderKeys(model.ProviderGemini)
	if len(keys) == 0 {
		return &model.WebSearchResult{
			Content: "web search unavailable: no Google API key configured",
		}, nil
	}

	req := provider.Request{
		Provider:        model.ProviderGemini,
		Model:           e.cfg.ProviderModel(model.ProviderGemini),
		APIKey:          keys[0],
		BaseURL:         e.cfg.ProviderBaseURL(model.ProviderGemini),
		Messages:        []*model.Message{model.NewMessage(model.RoleUser, query)},
		NativeWebSearch: true,
	}

	res, err := provider.ForKind(provider.KindGemini).Call(ctx, req)
	if err != nil {
		return e.degrade(BackendGoogle, query, err)
	}
	return &model.WebSearchResult{Content: res.Text, Sources: res.Sources}, nil
}

// degrade converts a backend failure into result content. Cancellation
// is the one error that propagates.
func (e *Executor) degrade(backend, query string, err error) (*model.WebSearchResult, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	e.log.Warn().Err(err).Str("backend", backend).Str("query", query).Msg("web search failed")
	return &model.WebSearchResult{
		Content: fmt.Sprintf("web search failed (%s): %v", backend, err),
	}, nil
}
