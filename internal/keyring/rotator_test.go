// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sidekick/internal/storage"
)

// newTestRotator returns a rotator backed by a file store in a temp dir.
func newTestRotator(t *testing.T) *Rotator {
	t.Helper()
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	return NewRotator(store)
}

// =============================================================================
// QUOTA CLASSIFICATION TESTS
// =============================================================================

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"quota word", "You have exceeded your quota for this month", true},
		{"rate limit spaced", "Rate limit reached for requests", true},
		{"rate limit underscore", "rate_limit_exceeded", true},
		{"too many requests", "HTTP 503: Too Many Requests", true},
		{"insufficient quota", "insufficient_quota: upgrade your plan", true},
		{"billing", "billing hard limit reached", true},
		{"credits", "This request requires more credits", true},
		{"status 429", "unexpected status 429", true},
		{"resource exhausted", "RESOURCE_EXHAUSTED: Quota metric exceeded", true},
		{"mixed case", "QUOTA EXCEEDED", true},
		{"auth failure", "invalid API key provided", false},
		{"model missing", "model not found", false},
		{"network", "connection refused", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.msg); got != tt.want {
				t.Errorf("IsQuotaError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

// =============================================================================
// EXPIRY COMPUTATION TESTS
// =============================================================================

func TestNextMonthStart(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			"mid-month",
			time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC),
			time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"first of month",
			time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"december rolls to january",
			time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC),
			time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextMonthStart(tt.at)
			if !got.Equal(tt.want) {
				t.Errorf("nextMonthStart(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

// =============================================================================
// SELECTION TESTS
// =============================================================================

func TestSelectKeyNoKeysConfigured(t *testing.T) {
	r := newTestRotator(t)

	sel := r.SelectKey(context.Background(), "openai", nil)
	if sel != nil {
		t.Errorf("SelectKey with no keys = %+v, want nil", sel)
	}
}

func TestSelectKeySkipsExhausted(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()
	keys := []string{"key-a", "key-b", "key-c"}

	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-a"))
	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-b"))

	// Only key-c survives the filter; run several selections to make the
	// uniform choice deterministic in effect.
	for i := 0; i < 20; i++ {
		sel := r.SelectKey(ctx, "openai", keys)
		require.NotNil(t, sel)
		require.Equal(t, "key-c", sel.Key)
		require.Equal(t, 1, sel.RemainingAvailable)
	}
}

func TestSelectKeyExhaustionIsPerProvider(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()

	require.NoError(t, r.MarkExhausted(ctx, "openai", "shared-key"))

	// The same key string under a different provider is unaffected.
	sel := r.SelectKey(ctx, "gemini", []string{"shared-key"})
	require.NotNil(t, sel)
	require.Equal(t, "shared-key", sel.Key)
	require.Equal(t, 1, sel.RemainingAvailable)
}

func TestSelectKeyAllExhaustedFallsBackToFullPool(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()
	keys := []string{"key-a", "key-b"}

	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-a"))
	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-b"))

	// Liveness: with every key exhausted the rotator still selects from
	// the full pool rather than returning nil.
	sel := r.SelectKey(ctx, "openai", keys)
	require.NotNil(t, sel)
	require.Contains(t, keys, sel.Key)
	require.Equal(t, 0, sel.RemainingAvailable)
}

func TestSelectKeyStoreErrorDegradesToEmptySet(t *testing.T) {
	r := NewRotator(&failingKV{err: errors.New("disk on fire")})

	sel := r.SelectKey(context.Background(), "openai", []string{"key-a"})
	if sel == nil {
		t.Fatal("SelectKey returned nil despite a configured key")
	}
	if sel.Key != "key-a" {
		t.Errorf("Key = %q, want %q", sel.Key, "key-a")
	}
	if sel.RemainingAvailable != 1 {
		t.Errorf("RemainingAvailable = %d, want 1", sel.RemainingAvailable)
	}
}

func TestSelectKeyCorruptStoreDegradesToEmptySet(t *testing.T) {
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "exhausted_keys", []byte("{not json")))

	r := NewRotator(store)
	sel := r.SelectKey(context.Background(), "openai", []string{"key-a"})
	require.NotNil(t, sel)
	require.Equal(t, "key-a", sel.Key)
}

// =============================================================================
// EXHAUSTION BOOKKEEPING TESTS
// =============================================================================

func TestMarkExhaustedIdempotent(t *testing.T) {
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	r := NewRotator(store)
	ctx := context.Background()

	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-a"))
	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-a"))

	raw, err := store.Get(ctx, "exhausted_keys")
	require.NoError(t, err)

	var entries []ExhaustedKeyEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1, "duplicate entries for the same key+provider pair")
	require.Equal(t, "key-a", entries[0].Key)
	require.Equal(t, "openai", entries[0].Provider)
}

func TestMarkExhaustedSetsMonthlyExpiry(t *testing.T) {
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	r := NewRotator(store)
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, r.MarkExhausted(ctx, "gemini", "key-g"))

	entries := r.Exhausted(ctx, "gemini")
	require.Len(t, entries, 1)

	want := nextMonthStart(before)
	got := entries[0].ExpiresAt
	// Allow the mark to have happened just after a month boundary.
	if !got.Equal(want) && !got.Equal(nextMonthStart(time.Now())) {
		t.Errorf("ExpiresAt = %v, want %v", got, want)
	}
	require.False(t, entries[0].ExhaustedAt.IsZero())
}

func TestExpiredEntriesExcludedOnRead(t *testing.T) {
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Write an entry whose window has already passed, as if recorded last
	// month. Lazy expiry: the read path filters it without removal.
	past := []ExhaustedKeyEntry{{
		Key:         "key-a",
		Provider:    "openai",
		ExhaustedAt: time.Now().AddDate(0, -1, 0),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}}
	raw, err := json.Marshal(past)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "exhausted_keys", raw))

	r := NewRotator(store)

	sel := r.SelectKey(ctx, "openai", []string{"key-a"})
	require.NotNil(t, sel)
	require.Equal(t, "key-a", sel.Key)
	require.Equal(t, 1, sel.RemainingAvailable, "expired entry should not block selection")

	require.Empty(t, r.Exhausted(ctx, "openai"))
}

func TestMarkExhaustedReplacesExpiredEntry(t *testing.T) {
	store, err := storage.OpenKV("file", t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	past := []ExhaustedKeyEntry{{
		Key:         "key-a",
		Provider:    "openai",
		ExhaustedAt: time.Now().AddDate(0, -1, 0),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}}
	raw, err := json.Marshal(past)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "exhausted_keys", raw))

	r := NewRotator(store)
	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-a"))

	raw, err = store.Get(ctx, "exhausted_keys")
	require.NoError(t, err)
	var entries []ExhaustedKeyEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1, "expired entry should be replaced, not duplicated")
	require.True(t, entries[0].ExpiresAt.After(time.Now()))
}

func TestExhaustedFiltersByProvider(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()

	require.NoError(t, r.MarkExhausted(ctx, "openai", "key-a"))
	require.NoError(t, r.MarkExhausted(ctx, "gemini", "key-b"))

	require.Len(t, r.Exhausted(ctx, "openai"), 1)
	require.Len(t, r.Exhausted(ctx, "gemini"), 1)
	require.Len(t, r.Exhausted(ctx, ""), 2)
	require.Empty(t, r.Exhausted(ctx, "anthropic"))
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

// failingKV always errors; models an unreadable bookkeeping store.
type failingKV struct {
	err error
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, f.err
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	return f.err
}
