// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package websearch executes web searches for tool-calling chat turns.
//
// Three backends answer a query: a one-shot Perplexity completion
// against a search model, the Kagi assistant via session-cookie
// authentication, and a one-shot Gemini completion with native grounding.
// A token-bucket limiter paces dispatch so a fan-out batch cannot hammer
// a backend; queries are NFC-normalized before transmission.
//
// # Key Types
//
//   - Executor: Rate-limited query dispatch to the configured backend
//   - Arguments: Decoded web_search tool-call payload (query or queries)
//
// # Failure Model
//
// A backend failure never fails the surrounding chat turn: the error is
// downgraded to a descriptive string in WebSearchResult.Content, and the
// model reads it like any other search result. Only context cancellation
// propagates as an error.
//
// # Gating
//
// ShouldEnable decides per turn whether the search tool is offered:
// search must not be disabled, the chat provider must not be Perplexity
// (its completions already search), and either the provider grounds
// natively (Gemini; GPT-family models on OpenAI-compatible endpoints) or
// a backend credential must be configured.
package websearch
