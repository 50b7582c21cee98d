// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for sidekick.
//
// All packages log through zerolog. The CLI initializes the global logger
// once at startup from config; library packages obtain component loggers
// via Component and never write to stdout/stderr directly.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to emit: "debug", "info", "warn", "error".
	Level string
	// Pretty enables human-readable console output instead of JSON.
	Pretty bool
	// Output is the destination writer. Defaults to stderr so log lines
	// never interleave with streamed answer text on stdout.
	Output io.Writer
}

// parseLevel maps a config string to a zerolog level. Unknown values
// fall back to info.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// New creates a logger from the given configuration.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// =============================================================================
// GLOBAL LOGGER
// =============================================================================

var (
	globalLogger zerolog.Logger = zerolog.Nop()
	globalMu     sync.RWMutex
)

// Init installs the global logger. Called once at startup by the CLI;
// before Init all logging is a no-op, which keeps library use quiet.
func Init(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = New(cfg)
}

// Global returns the global logger.
func Global() zerolog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Component returns a logger tagged with a component name, e.g. "keyring",
// "provider", "websearch", "session".
func Component(name string) zerolog.Logger {
	return Global().With().Str("component", name).Logger()
}

// FileWriter opens a log file for appending with user-only permissions,
// for the logging.file config option.
func FileWriter(path string) (io.Writer, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}
