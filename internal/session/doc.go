// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives chat turns end to end: key selection, the
// provider stream, the bounded tool-calling loop around web search, and
// cancellation.
//
// # Turn Lifecycle
//
// Open runs one turn: it selects an API key (reused across every
// tool-call round of the turn), streams the completion, and if the model
// requests web searches, executes them concurrently, folds the results
// back as tool messages, and follows up. Follow-ups are capped; hitting
// the cap returns the accumulated text silently.
//
// # Event Ordering
//
// OnChunk callbacks arrive in exact generation order. Pre-search text
// always precedes post-search text. Per-query search statuses are
// unordered among themselves, except the single boundary event carrying
// StartNewMessage, which is emitted exactly once per turn, immediately
// before the first post-search text chunk.
//
// # Cancellation
//
// Each session owns one abort slot. Opening a new turn aborts and
// replaces the previous turn's cancel function; Cancel aborts the
// in-flight turn. Cancellation surfaces as context.Canceled in
// Result.Err with the partial text preserved and Interrupted set.
package session
