// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for
// sidekick.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - JSONResponse: Machine-readable output envelope for --json mode
//
// # Usage
//
// Parse and execute commands:
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdAsk:
//	    cli.HandleAsk(args)
//	case cli.CmdChat:
//	    cli.HandleChat(args)
//	// ... other commands
//	}
//
// # Commands Overview
//
//   - ask: Single question, streamed answer with optional web search
//   - chat: Interactive REPL with input history and slash commands
//   - auth: API key management (set, list, remove)
//   - config: Configuration get/set/list/path
//   - history: Archived conversation list/show/search/delete/export/clear
//   - doctor: Environment and credential diagnostics
//   - version: Build information
//
// All commands support the --json flag for machine-readable output.
package cli
