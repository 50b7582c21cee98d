// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions shared across sidekick.
//
// This package contains helpers for crash-safe file writing and
// Unicode-aware string truncation used by the storage layer and the CLI.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width truncation (CJK aware)
//   - PadWidth: display-width padding for table output
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
