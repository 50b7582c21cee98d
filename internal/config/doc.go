// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for sidekick.
//
// Configuration is layered, later layers overriding earlier ones:
//
//   - Built-in defaults
//   - ~/.sidekick/config.toml (0600 enforced)
//   - .env file in the working directory (loaded into the environment)
//   - SIDEKICK_* environment variables
//
// API keys and session cookies may be stored encrypted with an "ENC:"
// prefix; they are decrypted on load when SIDEKICK_PASSPHRASE is set.
// Long-lived sessions can watch the config file for edits and reload
// between turns.
package config
