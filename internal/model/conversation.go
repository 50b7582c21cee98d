// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// Backend configuration at the time the conversation was started
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// System prompt (optional)
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// NewConversation creates a new conversation with a generated ID.
func NewConversation() *Conversation {
	return &Conversation{
		ID:        generateConversationID(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages:  make([]*Message, 0),
	}
}

// NewConversationWith creates a new conversation bound to a provider and model.
func NewConversationWith(provider, modelID string) *Conversation {
	conv := NewConversation()
	conv.Provider = provider
	conv.Model = modelID
	return conv
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage adds a message to the conversation.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
}

// AddUserMessage creates and adds a user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// AddSystemMessage creates and adds a system message.
func (c *Conversation) AddSystemMessage(content string) *Message {
	msg := NewSystemMessage(content)
	c.AddMessage(msg)
	return msg
}

// FinishAssistant appends a completed assistant message carrying the
// streamed text and per-turn metadata. Interrupted turns keep whatever
// partial text accumulated before cancellation.
func (c *Conversation) FinishAssistant(text string, elapsed time.Duration, interrupted bool) *Message {
	msg := NewAssistantMessage()
	msg.Content = text
	msg.ResponseTimeMs = elapsed.Milliseconds()
	msg.Interrupted = interrupted
	c.AddMessage(msg)
	return msg
}

// GetLastMessage returns the most recent message, or nil if empty.
func (c *Conversation) GetLastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// GetLastAssistantMessage returns the most recent assistant message.
func (c *Conversation) GetLastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i]
		}
	}
	return nil
}

// GetLastUserMessage returns the most recent user message.
func (c *Conversation) GetLastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// ClearHistory removes all messages from the conversation.
func (c *Conversation) ClearHistory() {
	c.Messages = make([]*Message, 0)
	c.UpdatedAt = time.Now()
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// =============================================================================
// TOKEN TRACKING
// =============================================================================

// EstimateTokens estimates the total token count of the conversation.
func (c *Conversation) EstimateTokens() int {
	total := 0

	// System prompt tokens
	if c.SystemPrompt != "" {
		total += (len(c.SystemPrompt) + 3) / 4
	}

	// Message tokens
	for _, msg := range c.Messages {
		total += msg.EstimateTokens()
		// Add overhead for message structure (~4 tokens per message)
		total += 4
	}

	return total
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle auto-generates a title from the first user message if not set.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}

	// Find the first user message
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.UpdatedAt = time.Now()
}

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// =============================================================================
// SERIALIZATION HELPERS
// =============================================================================

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	if len(c.Messages) == 0 {
		return "Empty conversation"
	}

	first := c.GetLastUserMessage()
	if first == nil {
		first = c.Messages[0]
	}

	return first.Preview(100)
}

// GetMeta returns metadata about the conversation.
func (c *Conversation) GetMeta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.GetTitle(),
		Provider:     c.Provider,
		Model:        c.Model,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Preview:      c.Preview(),
	}
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Provider:     c.Provider,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Messages:     make([]*Message, len(c.Messages)),
	}

	for i, msg := range c.Messages {
		msgCopy := *msg
		// Slices inside the message are copied too, so edits to the
		// clone never reach back into the original.
		msgCopy.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
		msgCopy.WebSearches = append([]WebSearch(nil), msg.WebSearches...)
		clone.Messages[i] = &msgCopy
	}

	return clone
}

// pruneOldMessages removes old messages when conversation history exceeds MaxMessages.
// Keeps the system prompt messages (if any) and the most recent MaxMessages messages.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}

	// Find system prompt messages to preserve
	var systemMessages []*Message
	var otherMessages []*Message
	for _, msg := range c.Messages {
		if msg.Role == RoleSystem {
			systemMessages = append(systemMessages, msg)
		} else {
			otherMessages = append(otherMessages, msg)
		}
	}

	// If we have more than MaxMessages non-system messages, keep only the most recent
	if len(otherMessages) > MaxMessages {
		startIdx := len(otherMessages) - MaxMessages
		otherMessages = otherMessages[startIdx:]
	}

	// Rebuild messages: system messages first, then conversation messages
	c.Messages = make([]*Message, 0, len(systemMessages)+len(otherMessages))
	c.Messages = append(c.Messages, systemMessages...)
	c.Messages = append(c.Messages, otherMessages...)
}
