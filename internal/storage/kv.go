// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides persistence for sidekick.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/sidekick/internal/util"
)

// =============================================================================
// KV BOUNDARY
// =============================================================================

// ErrKeyNotFound is returned when a key has never been set.
var ErrKeyNotFound = errors.New("key not found")

// KV is the minimal key-value store handed to the orchestration core.
// Exhausted-key bookkeeping lives under one well-known key, kept apart
// from user configuration. Implementations must be safe for concurrent
// use.
type KV interface {
	// Get returns the stored value, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
}

// OpenKV opens the state store selected by backend ("file" or "sqlite")
// rooted at dir. An unrecognized backend falls back to the file store.
func OpenKV(backend, dir string) (KV, error) {
	switch backend {
	case "sqlite":
		return NewSQLiteKV(filepath.Join(dir, "state.db"))
	default:
		return NewFileKV(filepath.Join(dir, "state.json"))
	}
}

// =============================================================================
// FILE-BACKED KV
// =============================================================================

// FileKV stores keys in a single JSON file. Every Set rewrites the file
// atomically; the file is small (bookkeeping only) so this stays cheap.
type FileKV struct {
	path string
	mu   sync.Mutex
}

// NewFileKV creates a file-backed store at path, creating parent
// directories as needed.
func NewFileKV(path string) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileKV{path: path}, nil
}

// Get returns the stored value for key, or ErrKeyNotFound.
func (s *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}

	value, ok := state[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// Set stores value under key and rewrites the state file atomically.
func (s *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		// Unreadable state is advisory bookkeeping, not user data.
		// Start over rather than wedging every future write.
		state = map[string][]byte{}
	}

	state[key] = value

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// SECURITY: state may hold key-derived bookkeeping, keep it 0600
	return util.AtomicWriteFile(s.path, data, 0600)
}

// load reads the state file into a map. A missing file is an empty map.
func (s *FileKV) load() (map[string][]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, err
	}

	state := map[string][]byte{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt state file: %w", err)
	}
	return state, nil
}
