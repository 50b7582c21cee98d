// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/logging"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/provider"
	"github.com/jeranaias/sidekick/internal/websearch"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// SearchEvent is one web-search status notification. A query emits
// IsSearching:true when it starts and a completion with its result; the
// boundary event additionally carries StartNewMessage.
type SearchEvent struct {
	model.WebSearch

	// StartNewMessage tells the consumer to render subsequent text as a
	// new message, separating the post-search answer from the pre-search
	// preamble. Emitted exactly once per turn.
	StartNewMessage bool
}

// Handlers carries the caller's event callbacks. Any handler may be nil.
// All callbacks are invoked from the goroutine that called Open.
type Handlers struct {
	// OnChunk receives answer text fragments in exact generation order.
	OnChunk func(text string)

	// OnReasoning receives reasoning/thinking fragments.
	OnReasoning func(text string)

	// OnImage receives generated images as data URLs.
	OnImage func(dataURL string)

	// OnWebSearch receives per-query search statuses and the
	// new-message boundary.
	OnWebSearch func(event SearchEvent)
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

func (h Handlers) webSearch(event SearchEvent) {
	if h.OnWebSearch != nil {
		h.OnWebSearch(event)
	}
}

// Result is the terminal outcome of a turn. Text is always the full
// accumulated answer, even alongside a non-nil Err.
type Result struct {
	Text      string
	Reasoning string

	// Sources are provider-native grounding citations collected across
	// the turn, deduplicated by URL. Tool-loop search sources travel in
	// the SearchEvent results instead.
	Sources []model.Source

	// Interrupted is set when the turn was cut short by cancellation.
	Interrupted bool

	// ElapsedMs is the wall-clock turn duration in milliseconds.
	ElapsedMs int64

	Err error
}

// =============================================================================
// SESSION
// =============================================================================

// Session runs chat turns. It owns the abort slot for the in-flight
// turn: opening a new turn aborts and replaces the previous one, and
// Cancel aborts on demand. Safe for use from multiple goroutines, though
// only one turn runs at a time.
type Session struct {
	rotator *keyring.Rotator
	log     zerolog.Logger

	mu     sync.Mutex
	turn   uint64
	cancel context.CancelFunc
}

// NewSession creates a session using the given rotator for key
// selection and quota bookkeeping.
func NewSession(rotator *keyring.Rotator) *Session {
	return &Session{
		rotator: rotator,
		log:     logging.Component("session"),
	}
}

// Cancel aborts the in-flight turn, if any. The turn returns promptly
// with context.Canceled.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// begin installs the turn's cancel function, aborting any previous turn.
func (s *Session) begin(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.turn++
	s.cancel = cancel
	return s.turn
}

// end clears the abort slot unless a newer turn has replaced it.
func (s *Session) end(turn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == turn {
		s.cancel = nil
	}
}

// Open runs one chat turn over the given conversation and returns its
// terminal outcome. The API key is selected once and reused across all
// tool-call rounds of the turn. Configuration is read per call, so the
// caller may swap provider, model, or search settings between turns.
func (s *Session) Open(ctx context.Context, messages []*model.Message, cfg *config.Config, handlers Handlers) Result {
	start := time.Now()

	turnCtx, cancel := context.WithCancel(ctx)
	turn := s.begin(cancel)
	defer func() {
		s.end(turn)
		cancel()
	}()

	providerID := cfg.DefaultProvider
	modelID := cfg.ProviderModel(providerID)

	selection := s.rotator.SelectKey(turnCtx, providerID, cfg.ProviderKeys(providerID))
	if selection == nil {
		return Result{
			ElapsedMs: time.Since(start).Milliseconds(),
			Err:       fmt.Errorf("%w: no API key for %s", provider.ErrNotConfigured, providerID),
		}
	}

	req := provider.Request{
		Provider:     providerID,
		Messages:     messages,
		Model:        modelID,
		APIKey:       selection.Key,
		BaseURL:      cfg.ProviderBaseURL(providerID),
		SystemPrompt: cfg.SystemPrompt,
	}

	searchActive := websearch.ShouldEnable(cfg, providerID, modelID)
	native := searchActive && websearch.NativeSearch(cfg, providerID, modelID)
	switch {
	case native:
		req.NativeWebSearch = true
	case searchActive:
		req.Tools = []provider.ToolDefinition{websearch.Tool()}
	}

	s.log.Debug().
		Str("provider", providerID).
		Str("model", modelID).
		Bool("search", searchActive).
		Bool("native_search", native).
		Int("messages", len(messages)).
		Msg("turn started")

	text, reasoning, sources, err := s.runTurn(turnCtx, provider.ForProvider(providerID), req, cfg, handlers)

	result := Result{
		Text:      text,
		Reasoning: reasoning,
		Sources:   sources,
		ElapsedMs: time.Since(start).Milliseconds(),
		Err:       err,
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Interrupted = true
			result.Err = context.Canceled
			return result
		}
		// Quota exhaustion marks the key for the rest of the month; the
		// error still surfaces unchanged. The turn context may already
		// be dead, so bookkeeping gets its own.
		if keyring.IsQuotaError(err.Error()) {
			if mErr := s.rotator.MarkExhausted(context.Background(), providerID, selection.Key); mErr != nil {
				s.log.Warn().Err(mErr).Str("provider", providerID).Msg("failed to record exhausted key")
			}
		}
	}
	return result
}
