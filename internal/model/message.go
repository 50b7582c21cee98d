// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Image holds an inline attachment as a data URL
	// (data:image/png;base64,...). Set on user messages for vision input
	// and on assistant messages when a provider returns a generated image.
	Image string `json:"image,omitempty"`

	// Interrupted marks an assistant message whose generation was cut
	// short by cancellation. The partial content is kept.
	Interrupted bool `json:"interrupted,omitempty"`

	// ResponseTimeMs is the wall-clock generation time for assistant
	// messages, in milliseconds.
	ResponseTimeMs int64 `json:"response_time_ms,omitempty"`

	// Tool calling. ToolCalls is set on assistant messages that request
	// function invocations; ToolCallID ties a tool-result message back to
	// the call it answers.
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// WebSearches records the searches run while producing this message,
	// in the order they were issued.
	WebSearches []WebSearch `json:"web_searches,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new empty assistant message.
func NewAssistantMessage() *Message {
	return NewMessage(RoleAssistant, "")
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewToolMessage creates a tool result message answering the given call.
func NewToolMessage(toolCallID string, content string) *Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolCallID = toolCallID
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsEmpty returns true if the message carries no content, image, or tool
// calls. Empty assistant messages are placeholders created around web
// searches and must never reach a provider payload.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && m.Image == "" && len(m.ToolCalls) == 0
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	return string(runes[:maxLen-3]) + "..."
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (m *Message) EstimateTokens() int {
	return (len(m.Content) + 3) / 4
}

// =============================================================================
// TOOL CALL TYPE
// =============================================================================

// ToolCall is a model-issued request to invoke an external function.
// Arguments holds the raw accumulated JSON string exactly as streamed by
// the provider; it is only parsed when the call is acted on.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments parses the accumulated argument string into v.
func (t *ToolCall) DecodeArguments(v any) error {
	return json.Unmarshal([]byte(t.Arguments), v)
}

// =============================================================================
// WEB SEARCH TYPES
// =============================================================================

// Source is a single citation attached to an answer or search result.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearchResult is the normalized output of one search query. Content
// always holds text, even on backend failure, where it carries a
// descriptive error string instead of an answer.
type WebSearchResult struct {
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// WebSearch is the per-query attachment recorded on an assistant
// message. IsSearching is true while the query is in flight.
type WebSearch struct {
	Query       string           `json:"query"`
	IsSearching bool             `json:"is_searching,omitempty"`
	Result      *WebSearchResult `json:"result,omitempty"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
