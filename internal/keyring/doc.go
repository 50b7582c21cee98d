// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package keyring manages API-key credential pools.
//
// It selects a usable key per provider with uniform random rotation,
// tracks quota-exhausted keys with a monthly reset, classifies provider
// errors as quota-related, and encrypts key material at rest.
//
// # Key Types
//
//   - Rotator: Key selection and exhaustion bookkeeping over a KV store
//   - ExhaustedKeyEntry: One exhausted key with its expiry
//   - Crypt: AES-256-GCM value encryption with a passphrase-derived key
//
// # Exhaustion Model
//
// A key marked exhausted stays out of rotation until the first moment
// of the next calendar month. Expiry is lazy: entries are filtered by
// expiry time on every read, never deleted by a sweeper. When every key
// of a provider is exhausted, selection falls back to the full pool
// anyway, since quotas may have silently reset.
package keyring
