// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation prompts for destructive operations
//
// USABILITY: Destructive operations (history clear, key removal) require
// explicit confirmation unless --confirm is passed. JSON mode never
// prompts; it requires the flag so scripts stay non-interactive.

package cli

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when the user declines a confirmation prompt.
// Handlers treat it as a clean exit, not a failure.
var ErrCancelled = errors.New("cancelled")

// RequireConfirmation checks for the --confirm flag or prompts the user.
// Returns nil if the operation should proceed, an error otherwise.
//
// CLI: In JSON mode prompting is impossible, so --confirm is mandatory.
func RequireConfirmation(confirmFlag bool, action string, jsonMode bool) error {
	if confirmFlag {
		return nil
	}

	if jsonMode {
		return NewValidationErrorWithExample(
			"confirmation",
			"",
			fmt.Sprintf("%s requires --confirm in JSON mode", action),
			"--confirm",
		)
	}

	if !CanPrompt() {
		return NewValidationErrorWithExample(
			"confirmation",
			"",
			fmt.Sprintf("%s requires --confirm when not running interactively", action),
			"--confirm",
		)
	}

	ok, err := PromptYesNo(fmt.Sprintf("Really %s?", action))
	if err != nil {
		return err
	}
	if !ok {
		return ErrCancelled
	}
	return nil
}

// RequireConfirmationWithDetails shows what will be affected before prompting.
func RequireConfirmationWithDetails(confirmFlag bool, action string, details []string, jsonMode bool) error {
	if confirmFlag {
		return nil
	}

	if !jsonMode && len(details) > 0 {
		fmt.Println(WarningStyle.Render("This will " + action + ":"))
		for _, d := range details {
			fmt.Printf("  %s\n", d)
		}
		fmt.Println()
	}

	return RequireConfirmation(confirmFlag, action, jsonMode)
}

// PromptYesNo asks a yes/no question and returns the answer.
// Only "y" and "yes" (case-insensitive) count as yes.
func PromptYesNo(question string) (bool, error) {
	answer, err := promptInput(fmt.Sprintf("%s [y/N]: ", question))
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// ShowCancellationMessage prints a standard cancellation notice.
func ShowCancellationMessage(jsonMode bool) {
	if jsonMode {
		return
	}
	fmt.Println(DimStyle.Render("Operation cancelled."))
}
