// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides persistence for sidekick.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/util"
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore archives conversations as JSON files, one per
// conversation.
type ConversationStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.sidekick/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int
}

// NewConversationStore creates a store under the user's home directory.
func NewConversationStore() (*ConversationStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	return NewConversationStoreWithDir(filepath.Join(homeDir, ".sidekick", "conversations"))
}

// NewConversationStoreWithDir creates a store with a custom directory.
func NewConversationStoreWithDir(baseDir string) (*ConversationStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: 100,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation and returns its ID.
func (s *ConversationStore) Save(conv *model.Conversation) (string, error) {
	// Generate ID if not set
	if conv.ID == "" {
		conv.ID = generateArchiveID()
	}

	// Update timestamps
	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	// Marshal to JSON
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	filePath := s.filePath(conv.ID)
	if err := util.AtomicWriteFile(filePath, data, 0644); err != nil {
		return "", err
	}

	// Enforce max conversations limit
	if s.MaxConversations > 0 {
		s.enforceLimit()
	}

	return conv.ID, nil
}

// enforceLimit removes oldest conversations if over limit.
func (s *ConversationStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// Sort by updated time (oldest first)
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})

	// Delete excess
	excess := len(metas) - s.MaxConversations
	for i := 0; i < excess; i++ {
		s.Delete(metas[i].ID)
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (*model.Conversation, error) {
	filePath := s.filePath(id)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}

	return &conv, nil
}

// LoadByIndex loads a conversation by its index in the list (0 = most recent).
func (s *ConversationStore) LoadByIndex(index int) (*model.Conversation, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(metas) {
		return nil, ErrConversationNotFound
	}

	return s.Load(metas[index].ID)
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations (most recent first).
func (s *ConversationStore) List() ([]model.ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.ConversationMeta{}, nil
		}
		return nil, err
	}

	var metas []model.ConversationMeta

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		// Extract ID from filename
		id := strings.TrimSuffix(entry.Name(), ".json")

		// Load the conversation to get metadata
		conv, err := s.Load(id)
		if err != nil {
			continue // Skip corrupted files
		}

		metas = append(metas, conv.GetMeta())
	}

	// Sort by updated time (most recent first)
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})

	return metas, nil
}

// Search finds conversations whose title or preview matches a query string.
func (s *ConversationStore) Search(query string) ([]model.ConversationMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []model.ConversationMeta

	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
		}
	}

	return results, nil
}

// SearchMessages searches conversations by message content.
// Returns conversations where any message contains the query string
// (case-insensitive).
func (s *ConversationStore) SearchMessages(query string) ([]model.ConversationMeta, error) {
	if query == "" {
		return s.List()
	}

	query = strings.ToLower(query)
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var results []model.ConversationMeta

	for _, meta := range all {
		// Load full conversation to search message content
		conv, err := s.Load(meta.ID)
		if err != nil {
			continue
		}

		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break // Found a match, move to next conversation
			}
		}
	}

	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *ConversationStore) Delete(id string) error {
	filePath := s.filePath(id)

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}

	return nil
}

// Clear removes all saved conversations.
func (s *ConversationStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			filePath := filepath.Join(s.BaseDir, entry.Name())
			os.Remove(filePath)
		}
	}

	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a conversation ID.
func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// generateArchiveID creates a unique conversation ID for archives saved
// without one.
func generateArchiveID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats a list of conversations for display in a
// table format with ID, creation time, message count, and preview.
func FormatSessionList(sessions []model.ConversationMeta) string {
	if len(sessions) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	sb.WriteString("-----------------------------------------------------\n")
	sb.WriteString(util.PadWidth("ID", 12) + " " + util.PadWidth("Created", 20) + " " + util.PadWidth("Messages", 8) + " Preview\n")
	sb.WriteString("-----------------------------------------------------\n")

	for _, s := range sessions {
		preview := util.TruncateRunes(util.CollapseLines(s.Preview), 30)
		idStr := s.ID
		if len(idStr) > 12 {
			idStr = idStr[:12]
		}
		createdStr := s.CreatedAt.Format("2006-01-02 15:04")
		msgCountStr := strconv.Itoa(s.MessageCount)

		sb.WriteString(util.PadWidth(idStr, 12) + " " +
			util.PadWidth(createdStr, 20) + " " +
			util.PadWidth(msgCountStr, 8) + " " +
			preview + "\n")
	}
	return sb.String()
}
