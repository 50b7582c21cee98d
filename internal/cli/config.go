// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration inspection and editing
//
// CLI: "sidekick config" reads and writes ~/.sidekick/config.toml using
// dot notation keys. Secret-bearing values are always masked on output.

package cli

import (
	"fmt"
	"strings"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/keyring"
)

// HandleConfigCommand dispatches config subcommands.
func HandleConfigCommand(args *Args) error {
	switch args.Subcommand {
	case "list", "show", "":
		return handleConfigList(args)
	case "get":
		return handleConfigGet(args)
	case "set":
		return handleConfigSet(args)
	case "path":
		return handleConfigPath(args)
	default:
		return NewValidationErrorWithExample(
			"config action", args.Subcommand,
			"unknown action",
			"list, get, set, path",
		)
	}
}

// =============================================================================
// LIST / GET
// =============================================================================

func handleConfigList(args *Args) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}

	settings := make(map[string]string)
	for _, key := range config.GetAllKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			continue
		}
		settings[key] = formatConfigValue(key, value)
	}

	if args.JSON {
		path, _ := config.ConfigPath()
		return OutputJSON("config", ConfigData{Path: path, Settings: settings})
	}

	fmt.Println(SectionStyle.Render("Configuration:"))
	var lastSection string
	for _, key := range config.GetAllKeys() {
		section := key
		if i := strings.Index(key, "."); i >= 0 {
			section = key[:i]
		}
		if section != lastSection {
			fmt.Println()
			lastSection = section
		}
		fmt.Printf("  %-36s %s\n", key, ValueStyle.Render(settings[key]))
	}
	fmt.Println()
	return nil
}

func handleConfigGet(args *Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "sidekick config get web_search.backend")
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}

	value, err := cfg.Get(args.ConfigKey)
	if err != nil {
		return NewNotFoundError("config key", args.ConfigKey)
	}

	display := formatConfigValue(args.ConfigKey, value)

	if args.JSON {
		return OutputJSON("config", ConfigData{Key: args.ConfigKey, Value: display})
	}

	fmt.Println(display)
	return nil
}

// =============================================================================
// SET
// =============================================================================

func handleConfigSet(args *Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "sidekick config set web_search.backend kagi")
	}
	if args.ConfigValue == "" {
		return ErrMissingArgument("value", "sidekick config set web_search.backend kagi")
	}

	// Key pools have their own command with fingerprinting and secure
	// entry; editing them as comma-joined strings invites mistakes.
	if strings.Contains(args.ConfigKey, "api_keys") {
		return NewValidationErrorWithExample(
			"key", args.ConfigKey,
			"API keys are managed by the auth command",
			"sidekick auth set openai",
		)
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}

	if err := cfg.Set(args.ConfigKey, args.ConfigValue); err != nil {
		return NewValidationError("key", args.ConfigKey, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return WrapError(err, "rejected invalid configuration")
	}
	if err := config.Save(cfg); err != nil {
		return WrapError(err, "failed to save configuration")
	}

	value, _ := cfg.Get(args.ConfigKey)
	display := formatConfigValue(args.ConfigKey, value)

	if args.JSON {
		return OutputJSON("config", ConfigData{Key: args.ConfigKey, Value: display})
	}

	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("OK"), args.ConfigKey, display)
	return nil
}

// =============================================================================
// PATH
// =============================================================================

func handleConfigPath(args *Args) error {
	path, err := config.ConfigPath()
	if err != nil {
		return WrapError(err, "failed to resolve config path")
	}

	if args.JSON {
		return OutputJSON("config", ConfigData{Path: path})
	}

	fmt.Println(path)
	return nil
}

// =============================================================================
// VALUE FORMATTING
// =============================================================================

// formatConfigValue renders a config value for display, masking secrets.
func formatConfigValue(key string, value interface{}) string {
	if strings.Contains(key, "api_keys") {
		keys, ok := value.([]string)
		if !ok || len(keys) == 0 {
			return "(none)"
		}
		fingerprints := make([]string, len(keys))
		for i, k := range keys {
			fingerprints[i] = keyring.Fingerprint(k)
		}
		return fmt.Sprintf("%d %s [%s]", len(keys), pluralize("key", len(keys)),
			strings.Join(fingerprints, ", "))
	}

	if strings.Contains(key, "kagi_session") {
		s, _ := value.(string)
		if s == "" {
			return "(none)"
		}
		return "set [" + keyring.Fingerprint(s) + "]"
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			return "(empty)"
		}
		return v
	case []string:
		if len(v) == 0 {
			return "(none)"
		}
		return strings.Join(v, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
