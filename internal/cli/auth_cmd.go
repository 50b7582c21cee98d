// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - API key management
//
// SECURITY: Key material is never echoed back. Keys entered without an
// argument are read with terminal echo disabled, and all display paths
// show fingerprints (first 4 bytes of SHA-256) instead of key text.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/storage"
)

// HandleAuthCommand dispatches auth subcommands.
func HandleAuthCommand(args *Args) error {
	switch args.Subcommand {
	case "set", "add":
		return handleAuthSet(args)
	case "list", "":
		return handleAuthList(args)
	case "remove", "rm":
		return handleAuthRemove(args)
	default:
		return NewValidationErrorWithExample(
			"auth action", args.Subcommand,
			"unknown action",
			"set, list, remove",
		)
	}
}

// =============================================================================
// AUTH SET
// =============================================================================

func handleAuthSet(args *Args) error {
	if len(args.Positional) == 0 {
		return ErrMissingArgument("provider", "sidekick auth set openai")
	}
	providerID := strings.ToLower(strings.TrimSpace(args.Positional[0]))

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}
	if !model.IsBuiltinProvider(providerID) && !cfg.IsCustom(providerID) {
		return NewValidationErrorWithExample(
			"provider", providerID,
			"unknown provider",
			strings.Join(cfg.ProviderIDs(), ", "),
		)
	}

	var key string
	if len(args.Positional) > 1 {
		key = args.Positional[1]
	} else {
		key, err = promptSecret(fmt.Sprintf("API key for %s: ", providerID))
		if err != nil {
			return err
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return NewValidationError("api key", "", "key cannot be empty")
	}
	if keyring.IsEncrypted(key) {
		return NewValidationError("api key", "", "value is already encrypted; enter the plain key")
	}

	// Fingerprint before optional encryption so it identifies the key
	// the same way auth list does.
	fingerprint := keyring.Fingerprint(key)

	if args.Encrypt {
		crypt, ok := keyring.CryptFromEnv()
		if !ok {
			return NewValidationErrorWithExample(
				"encryption", "",
				"--encrypt requires the "+keyring.PassphraseEnv+" environment variable",
				"export "+keyring.PassphraseEnv+"='...'",
			)
		}
		key, err = crypt.EncryptString(key)
		if err != nil {
			return WrapError(err, "failed to encrypt key")
		}
	}

	if err := cfg.AddKey(providerID, key); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return WrapError(err, "failed to save configuration")
	}

	total := len(cfg.ProviderKeys(providerID))

	if args.JSON {
		return OutputJSON("auth", map[string]interface{}{
			"action":      "set",
			"provider":    providerID,
			"fingerprint": fingerprint,
			"key_count":   total,
			"encrypted":   args.Encrypt,
		})
	}

	fmt.Printf("%s added key %s to %s (%d %s configured)\n",
		SuccessStyle.Render("OK"),
		fingerprint, providerID, total, pluralize("key", total))
	return nil
}

// promptSecret reads one line with terminal echo disabled.
func promptSecret(prompt string) (string, error) {
	if !CanPrompt() {
		return "", RequiresTTY("auth set")
	}
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", WrapError(err, "failed to read key")
	}
	return string(data), nil
}

// =============================================================================
// AUTH LIST
// =============================================================================

func handleAuthList(args *Args) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}

	_, passphraseActive := keyring.CryptFromEnv()

	// Exhausted-key counts come from the same store the rotator uses.
	exhaustedFor := exhaustedCounter(cfg)

	data := AuthListData{Encrypted: passphraseActive}
	for _, id := range cfg.ProviderIDs() {
		keys := cfg.ProviderKeys(id)
		entry := AuthProviderData{
			Provider:  id,
			KeyCount:  len(keys),
			Model:     cfg.ProviderModel(id),
			BaseURL:   cfg.ProviderBaseURL(id),
			Exhausted: exhaustedFor(id),
		}
		for _, k := range keys {
			entry.Fingerprints = append(entry.Fingerprints, keyring.Fingerprint(k))
		}
		data.Providers = append(data.Providers, entry)
	}

	if args.JSON {
		return OutputJSON("auth", data)
	}

	fmt.Println(SectionStyle.Render("Providers:"))
	for _, p := range data.Providers {
		marker := " "
		if p.Provider == cfg.DefaultProvider {
			marker = HighlightStyle.Render("*")
		}

		keyInfo := DimStyle.Render("no keys")
		if p.KeyCount > 0 {
			keyInfo = fmt.Sprintf("%d %s [%s]", p.KeyCount, pluralize("key", p.KeyCount),
				strings.Join(p.Fingerprints, ", "))
		}

		fmt.Printf("  %s %-12s %s\n", marker, p.Provider, keyInfo)
		fmt.Printf("      %s %s\n", DimStyle.Render("model:"), p.Model)
		if p.BaseURL != "" {
			fmt.Printf("      %s %s\n", DimStyle.Render("base url:"), p.BaseURL)
		}
		if p.Exhausted > 0 {
			fmt.Printf("      %s\n", WarningStyle.Render(
				fmt.Sprintf("%d %s exhausted this month", p.Exhausted, pluralize("key", p.Exhausted))))
		}
	}

	fmt.Println()
	if passphraseActive {
		fmt.Println(DimStyle.Render("passphrase: active (" + keyring.PassphraseEnv + " is set)"))
	} else {
		fmt.Println(DimStyle.Render("passphrase: not set"))
	}
	return nil
}

// exhaustedCounter returns a lookup of currently exhausted keys per
// provider. Store failures degrade to zero counts; listing keys must
// never fail because quota bookkeeping is unavailable.
func exhaustedCounter(cfg *config.Config) func(string) int {
	dir, err := config.ConfigDir()
	if err != nil {
		return func(string) int { return 0 }
	}
	kv, err := storage.OpenKV(cfg.Storage.Backend, dir)
	if err != nil {
		return func(string) int { return 0 }
	}
	rotator := keyring.NewRotator(kv)
	ctx := context.Background()
	return func(provider string) int {
		return len(rotator.Exhausted(ctx, provider))
	}
}

// =============================================================================
// AUTH REMOVE
// =============================================================================

func handleAuthRemove(args *Args) error {
	if len(args.Positional) == 0 {
		return ErrMissingArgument("provider", "sidekick auth remove openai --index 0")
	}
	providerID := strings.ToLower(strings.TrimSpace(args.Positional[0]))

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}

	keys := cfg.ProviderKeys(providerID)
	if len(keys) == 0 {
		return NewNotFoundError("api key", providerID)
	}

	index := args.Index
	if index < 0 {
		if len(keys) == 1 {
			index = 0
		} else {
			if !args.JSON {
				fmt.Printf("%s has %d keys:\n", providerID, len(keys))
				for i, k := range keys {
					fmt.Printf("  [%d] %s\n", i, keyring.Fingerprint(k))
				}
			}
			return NewValidationErrorWithExample(
				"index", "",
				"multiple keys configured; pick one with --index",
				fmt.Sprintf("sidekick auth remove %s --index 0", providerID),
			)
		}
	}
	if index >= len(keys) {
		return NewValidationError("index", fmt.Sprintf("%d", index),
			fmt.Sprintf("%s has %d %s", providerID, len(keys), pluralize("key", len(keys))))
	}

	fingerprint := keyring.Fingerprint(keys[index])

	err = RequireConfirmation(args.Confirm,
		fmt.Sprintf("remove key %s from %s", fingerprint, providerID), args.JSON)
	if errors.Is(err, ErrCancelled) {
		ShowCancellationMessage(args.JSON)
		return nil
	}
	if err != nil {
		return err
	}

	if err := cfg.RemoveKey(providerID, index); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return WrapError(err, "failed to save configuration")
	}

	if args.JSON {
		return OutputJSON("auth", map[string]interface{}{
			"action":      "remove",
			"provider":    providerID,
			"fingerprint": fingerprint,
			"key_count":   len(cfg.ProviderKeys(providerID)),
		})
	}

	fmt.Printf("%s removed key %s from %s\n", SuccessStyle.Render("OK"), fingerprint, providerID)
	return nil
}
