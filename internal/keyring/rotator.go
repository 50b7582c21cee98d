// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// rotator.go - API key rotation with quota-exhaustion tracking.
//
// RELIABILITY: Selection never fails because bookkeeping is unreadable.
//
// Keys exhausted by provider quota errors are recorded with a monthly
// expiry (provider quotas reset on calendar-month boundaries) and skipped
// by subsequent selections until the expiry passes. When every configured
// key is marked exhausted, selection falls back to the full pool: quotas
// may have reset silently, and an optimistic retry costs one failed
// request while refusing to select costs the whole turn.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/sidekick/internal/logging"
	"github.com/jeranaias/sidekick/internal/storage"
)

// =============================================================================
// QUOTA ERROR CLASSIFICATION
// =============================================================================

// quotaVocabulary holds the markers that identify a quota/rate-limit failure
// in a provider error message. Substring match, case-insensitive.
var quotaVocabulary = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"too many requests",
	"exceeded",
	"insufficient_quota",
	"billing",
	"credits",
	"429",
	"resource_exhausted",
}

// IsQuotaError reports whether a provider error message indicates quota or
// rate-limit exhaustion. The classification is advisory: a false positive
// costs one temporarily skipped key, a false negative one retried request.
func IsQuotaError(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, marker := range quotaVocabulary {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// =============================================================================
// EXHAUSTED KEY BOOKKEEPING
// =============================================================================

// exhaustedStoreKey is the well-known store key for the exhausted-key list.
// Namespaced apart from user configuration.
const exhaustedStoreKey = "exhausted_keys"

// ExhaustedKeyEntry records one key that hit its provider quota.
type ExhaustedKeyEntry struct {
	Key         string    `json:"key"`
	Provider    string    `json:"provider"`
	ExhaustedAt time.Time `json:"exhausted_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry's quota window has passed.
// Expired entries are treated as absent; they are filtered on read and
// never swept.
func (e ExhaustedKeyEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// nextMonthStart returns the first instant of the month after t in t's
// location. time.Date normalizes month overflow, so December rolls into
// January of the next year.
func nextMonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}

// =============================================================================
// ROTATOR
// =============================================================================

// Selection is the outcome of a key selection.
type Selection struct {
	// Key is the selected API key.
	Key string

	// RemainingAvailable counts the keys not currently marked exhausted,
	// including the selected one. Zero means selection fell back to the
	// full pool.
	RemainingAvailable int
}

// Rotator selects API keys for providers and tracks quota exhaustion in an
// injected key-value store.
//
// The exhausted list is read-then-written non-atomically; concurrent turns
// may race on marking the same key, but MarkExhausted is idempotent so the
// race is harmless.
type Rotator struct {
	store storage.KV
	log   zerolog.Logger
}

// NewRotator creates a rotator backed by the given store.
func NewRotator(store storage.KV) *Rotator {
	return &Rotator{
		store: store,
		log:   logging.Component("keyring"),
	}
}

// SelectKey picks one usable key for provider uniformly at random among the
// keys not currently marked exhausted. When every key is exhausted it falls
// back to the full pool. Returns nil only when allKeys is empty.
func (r *Rotator) SelectKey(ctx context.Context, provider string, allKeys []string) *Selection {
	if len(allKeys) == 0 {
		return nil
	}

	now := time.Now()
	blocked := make(map[string]bool)
	for _, entry := range r.load(ctx) {
		if entry.Provider == provider && !entry.Expired(now) {
			blocked[entry.Key] = true
		}
	}

	available := make([]string, 0, len(allKeys))
	for _, key := range allKeys {
		if !blocked[key] {
			available = append(available, key)
		}
	}

	// RELIABILITY: All keys marked exhausted. Quotas may have reset since
	// the marks were written, so retry from the full pool rather than
	// refusing to select.
	if len(available) == 0 {
		key := allKeys[rand.IntN(len(allKeys))]
		r.log.Warn().
			Str("provider", provider).
			Str("key", Fingerprint(key)).
			Int("pool_size", len(allKeys)).
			Msg("all keys exhausted, retrying from full pool")
		return &Selection{Key: key, RemainingAvailable: 0}
	}

	key := available[rand.IntN(len(available))]
	r.log.Debug().
		Str("provider", provider).
		Str("key", Fingerprint(key)).
		Int("available", len(available)).
		Msg("key selected")
	return &Selection{Key: key, RemainingAvailable: len(available)}
}

// MarkExhausted records that key hit its quota for provider. The entry
// expires at the start of the next calendar month. Idempotent: marking an
// already-exhausted key changes nothing.
func (r *Rotator) MarkExhausted(ctx context.Context, provider, key string) error {
	now := time.Now()
	entries := r.load(ctx)

	for _, entry := range entries {
		if entry.Provider == provider && entry.Key == key && !entry.Expired(now) {
			return nil
		}
	}

	// An expired entry for the same pair is replaced, not duplicated.
	kept := make([]ExhaustedKeyEntry, 0, len(entries)+1)
	for _, entry := range entries {
		if entry.Provider == provider && entry.Key == key {
			continue
		}
		kept = append(kept, entry)
	}
	kept = append(kept, ExhaustedKeyEntry{
		Key:         key,
		Provider:    provider,
		ExhaustedAt: now,
		ExpiresAt:   nextMonthStart(now),
	})

	raw, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode exhausted keys: %w", err)
	}
	if err := r.store.Set(ctx, exhaustedStoreKey, raw); err != nil {
		return fmt.Errorf("persist exhausted keys: %w", err)
	}

	r.log.Warn().
		Str("provider", provider).
		Str("key", Fingerprint(key)).
		Time("expires_at", nextMonthStart(now)).
		Msg("key marked exhausted")
	return nil
}

// Exhausted returns the live (non-expired) entries for provider. An empty
// provider matches every provider. Used for diagnostics; never fails.
func (r *Rotator) Exhausted(ctx context.Context, provider string) []ExhaustedKeyEntry {
	now := time.Now()
	var live []ExhaustedKeyEntry
	for _, entry := range r.load(ctx) {
		if entry.Expired(now) {
			continue
		}
		if provider != "" && entry.Provider != provider {
			continue
		}
		live = append(live, entry)
	}
	return live
}

// load reads the exhausted-key list. Read errors and corrupt payloads
// degrade to an empty list with a logged warning: selection must not fail
// because bookkeeping is unreadable.
func (r *Rotator) load(ctx context.Context) []ExhaustedKeyEntry {
	raw, err := r.store.Get(ctx, exhaustedStoreKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			r.log.Warn().Err(err).Msg("exhausted-key store unreadable, treating as empty")
		}
		return nil
	}

	var entries []ExhaustedKeyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.log.Warn().Err(err).Msg("exhausted-key store corrupt, treating as empty")
		return nil
	}
	return entries
}
