// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides persistence for sidekick.
//
// Two concerns live here: a small key-value state store used for
// bookkeeping such as exhausted API keys (file or SQLite backed,
// selectable in configuration), and a conversation archive that saves
// chat history to disk as JSON files.
//
// # Key Types
//
//   - KV: Minimal key-value store boundary consumed by the keyring
//   - FileKV, SQLiteKV: The two KV backends
//   - ConversationStore: JSON-file conversation archive
//
// # Usage
//
// Open the state store and archive:
//
//	kv, err := storage.OpenKV("sqlite", dataDir)
//	store, err := storage.NewConversationStoreWithDir(archiveDir)
//
// List and load conversations:
//
//	metas, err := store.List()
//	conv, err := store.Load(metas[0].ID)
//
// # Storage Location
//
// State and conversations live under ~/.sidekick/ by default.
package storage
