// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// PROVIDER IDENTIFIERS
// =============================================================================

// Identifiers for the built-in chat backends. Custom OpenAI-compatible
// providers use their registry id from configuration instead.
const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderAnthropic  = "anthropic"
	ProviderPerplexity = "perplexity"
)

// BuiltinProviders returns the built-in provider identifiers in display order.
func BuiltinProviders() []string {
	return []string{ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderPerplexity}
}

// IsBuiltinProvider reports whether id names one of the built-in backends.
func IsBuiltinProvider(id string) bool {
	switch id {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderPerplexity:
		return true
	}
	return false
}

// IsGPTFamily reports whether a model id belongs to OpenAI's GPT family.
// GPT models on the OpenAI provider (and on custom OpenAI-compatible
// providers) support native web search without extra credentials.
func IsGPTFamily(modelID string) bool {
	id := strings.ToLower(modelID)
	return strings.HasPrefix(id, "gpt") || strings.HasPrefix(id, "chatgpt")
}

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo contains detailed information about a model.
// This is used for model selection and display.
type ModelInfo struct {
	// ID is the model identifier used in API calls
	ID string `json:"id"`

	// Name is the human-readable display name
	Name string `json:"name"`

	// Provider identifies which backend serves the model
	Provider string `json:"provider"`

	// MaxTokens is the maximum context window size
	MaxTokens int `json:"max_tokens"`

	// Vision indicates whether the model accepts image input
	Vision bool `json:"vision"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description"`
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// Models is the registry of known models with their metadata. Models not
// listed here (custom provider deployments, newly released ids) still
// work; the registry only drives selection menus and display.
var Models = map[string]ModelInfo{
	// OpenAI models
	"gpt-4o": {
		ID:          "gpt-4o",
		Name:        "GPT-4o",
		Provider:    ProviderOpenAI,
		MaxTokens:   128000,
		Vision:      true,
		Description: "Fast multimodal model with vision",
	},
	"gpt-4o-mini": {
		ID:          "gpt-4o-mini",
		Name:        "GPT-4o Mini",
		Provider:    ProviderOpenAI,
		MaxTokens:   128000,
		Vision:      true,
		Description: "Cost-effective for simple tasks",
	},
	"gpt-4.1": {
		ID:          "gpt-4.1",
		Name:        "GPT-4.1",
		Provider:    ProviderOpenAI,
		MaxTokens:   1047576,
		Vision:      true,
		Description: "Long-context flagship model",
	},
	"gpt-4.1-mini": {
		ID:          "gpt-4.1-mini",
		Name:        "GPT-4.1 Mini",
		Provider:    ProviderOpenAI,
		MaxTokens:   1047576,
		Vision:      true,
		Description: "Balanced speed and capability",
	},

	// Google Gemini models
	"gemini-2.5-flash": {
		ID:          "gemini-2.5-flash",
		Name:        "Gemini 2.5 Flash",
		Provider:    ProviderGemini,
		MaxTokens:   1048576,
		Vision:      true,
		Description: "Fast model with native search grounding",
	},
	"gemini-2.5-pro": {
		ID:          "gemini-2.5-pro",
		Name:        "Gemini 2.5 Pro",
		Provider:    ProviderGemini,
		MaxTokens:   1048576,
		Vision:      true,
		Description: "Most capable Gemini for complex reasoning",
	},
	"gemini-2.0-flash": {
		ID:          "gemini-2.0-flash",
		Name:        "Gemini 2.0 Flash",
		Provider:    ProviderGemini,
		MaxTokens:   1048576,
		Vision:      true,
		Description: "Previous generation fast model",
	},

	// Anthropic Claude models
	"claude-sonnet-4-20250514": {
		ID:          "claude-sonnet-4-20250514",
		Name:        "Claude Sonnet 4",
		Provider:    ProviderAnthropic,
		MaxTokens:   200000,
		Vision:      true,
		Description: "Best balance of speed and capability",
	},
	"claude-opus-4-20250514": {
		ID:          "claude-opus-4-20250514",
		Name:        "Claude Opus 4",
		Provider:    ProviderAnthropic,
		MaxTokens:   200000,
		Vision:      true,
		Description: "Most capable for complex reasoning",
	},
	"claude-3-5-haiku-20241022": {
		ID:          "claude-3-5-haiku-20241022",
		Name:        "Claude 3.5 Haiku",
		Provider:    ProviderAnthropic,
		MaxTokens:   200000,
		Vision:      true,
		Description: "Fast and efficient for simple tasks",
	},

	// Perplexity models (answers are natively search-grounded)
	"sonar": {
		ID:          "sonar",
		Name:        "Sonar",
		Provider:    ProviderPerplexity,
		MaxTokens:   128000,
		Vision:      false,
		Description: "Search-grounded answers with citations",
	},
	"sonar-pro": {
		ID:          "sonar-pro",
		Name:        "Sonar Pro",
		Provider:    ProviderPerplexity,
		MaxTokens:   200000,
		Vision:      false,
		Description: "Deeper search grounding for complex questions",
	},
	"sonar-reasoning": {
		ID:          "sonar-reasoning",
		Name:        "Sonar Reasoning",
		Provider:    ProviderPerplexity,
		MaxTokens:   128000,
		Vision:      false,
		Description: "Chain-of-thought answers over live search",
	},
}

// defaultModels maps each built-in provider to its default model id.
var defaultModels = map[string]string{
	ProviderOpenAI:     "gpt-4o",
	ProviderGemini:     "gemini-2.5-flash",
	ProviderAnthropic:  "claude-sonnet-4-20250514",
	ProviderPerplexity: "sonar",
}

// DefaultModel returns the default model id for a built-in provider.
// Custom providers have no default; their model comes from configuration.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// =============================================================================
// MODEL INFO METHODS
// =============================================================================

// ContextString returns a formatted context window string.
func (m ModelInfo) ContextString() string {
	if m.MaxTokens >= 1000000 {
		return fmt.Sprintf("%.1fM tokens", float64(m.MaxTokens)/1000000)
	}
	if m.MaxTokens >= 1000 {
		return fmt.Sprintf("%dK tokens", m.MaxTokens/1000)
	}
	return fmt.Sprintf("%d tokens", m.MaxTokens)
}

// CapabilitiesString returns a comma-separated list of model capabilities.
func (m ModelInfo) CapabilitiesString() string {
	caps := []string{}

	if m.MaxTokens >= 1000000 {
		caps = append(caps, "Very long context")
	} else if m.MaxTokens >= 100000 {
		caps = append(caps, "Long context")
	}

	if m.Vision {
		caps = append(caps, "Vision")
	}

	if m.Provider == ProviderPerplexity || m.Provider == ProviderGemini {
		caps = append(caps, "Native search")
	}
	if IsGPTFamily(m.ID) {
		caps = append(caps, "Native search")
	}

	if len(caps) == 0 {
		return "General purpose"
	}

	return strings.Join(caps, ", ")
}

// =============================================================================
// MODEL LOOKUP FUNCTIONS
// =============================================================================

// GetModelInfo looks up a model by short name or ID.
// Returns the ModelInfo and true if found, otherwise empty ModelInfo and false.
func GetModelInfo(nameOrID string) (ModelInfo, bool) {
	// Try direct lookup by registry key
	if info, ok := Models[nameOrID]; ok {
		return info, true
	}

	// Try lookup by ID
	for _, info := range Models {
		if info.ID == nameOrID {
			return info, true
		}
	}

	// Try partial match on name
	lowerName := strings.ToLower(nameOrID)
	for _, info := range Models {
		if strings.Contains(strings.ToLower(info.Name), lowerName) {
			return info, true
		}
		if strings.Contains(strings.ToLower(info.ID), lowerName) {
			return info, true
		}
	}

	return ModelInfo{}, false
}

// ModelsForProvider returns all known models for a provider, sorted by ID.
func ModelsForProvider(provider string) []ModelInfo {
	result := []ModelInfo{}
	lowerProvider := strings.ToLower(provider)

	for _, info := range Models {
		if strings.ToLower(info.Provider) == lowerProvider {
			result = append(result, info)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// ModelShortNames returns a sorted slice of all model registry keys.
func ModelShortNames() []string {
	names := make([]string, 0, len(Models))
	for name := range Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
