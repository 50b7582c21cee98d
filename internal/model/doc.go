// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types used throughout the application
// for representing chat conversations, messages, tool calls, and web-search
// attachments.
//
// # Key Types
//
//   - Conversation: Container for a chat session with messages and metadata
//   - Message: Single message with role, content, image, and optional tool calls
//   - ToolCall: A model-issued request to invoke an external function
//   - WebSearchResult: Normalized output of one web search query
//   - ModelInfo: Information about an LLM model (ID, provider, context window)
//   - Role: Message role enumeration (user, assistant, system, tool)
//
// # Usage
//
// Create a new conversation:
//
//	conv := model.NewConversation()
//	conv.AddUserMessage("Hello!")
//
// Look up model information:
//
//	info, ok := model.GetModelInfo("gpt-4o")
//	fmt.Printf("Model: %s, Context: %s\n", info.Name, info.ContextString())
package model
