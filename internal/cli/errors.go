// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for all sidekick CLI commands.
//
// STANDARDIZED PATTERN:
//   - ALWAYS return errors (never just print and return nil)
//   - Let the caller decide how to display errors
//   - Use structured error types for better error handling
//   - Map provider sentinels onto specific exit codes
//
// ERROR HANDLING: Errors must not be silently ignored

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/sidekick/internal/provider"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network, connectivity, or quota error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 6
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 7
	// ExitInterrupted indicates the operation was cancelled by the user
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "history", "auth")
	Action  string // Action being performed (e.g., "show", "delete")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	Resource string // Type of resource (e.g., "conversation", "provider")
	ID       string // Identifier that was not found
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(
		argName,
		"",
		"required argument missing",
		usage,
	)
}

// ErrUnsupportedFormat creates an error for unsupported formats.
func ErrUnsupportedFormat(format string, supportedFormats []string) error {
	return NewValidationErrorWithExample(
		"format",
		format,
		"unsupported format",
		fmt.Sprintf("supported formats: %v", supportedFormats),
	)
}

// =============================================================================
// ERROR DISPLAY HELPERS
// =============================================================================

// DisplayError displays an error in a consistent format.
// This should be called by command handlers before returning an error.
//
// In JSON mode, outputs structured JSON error.
// In normal mode, displays formatted error message.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		DisplayErrorJSON(err)
		return
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON outputs an error as JSON.
func DisplayErrorJSON(err error) {
	output := map[string]interface{}{
		"error":   err.Error(),
		"success": false,
	}

	// Add structured error details if available
	var cmdErr *CommandError
	var valErr *ValidationError
	var nfErr *NotFoundError
	var provErr *provider.ProviderError

	switch {
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
		output["reason"] = cmdErr.Reason

	case errors.As(err, &valErr):
		output["error_type"] = "validation_error"
		output["field"] = valErr.Field
		output["value"] = valErr.Value
		output["reason"] = valErr.Reason
		if valErr.Example != "" {
			output["example"] = valErr.Example
		}

	case errors.As(err, &nfErr):
		output["error_type"] = "not_found_error"
		output["resource"] = nfErr.Resource
		output["id"] = nfErr.ID

	case errors.As(err, &provErr):
		output["error_type"] = "provider_error"
		output["provider"] = provErr.Provider
		output["status"] = provErr.Status

	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}

// HandleErrorAndExit displays an error and exits with an appropriate exit code.
// Use this for fatal errors in main command handlers.
func HandleErrorAndExit(err error, jsonMode bool) {
	if err == nil {
		return
	}

	DisplayError(err, jsonMode)
	os.Exit(GetExitCode(err))
}

// GetExitCode determines the appropriate exit code for an error.
// Provider sentinel errors map to specific codes so scripts can react to
// auth failures versus quota exhaustion versus missing resources.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Cancellation first: Ctrl+C must look like an interrupt, not a failure.
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	// Provider sentinels carry the most precise classification.
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		return ExitConfigError
	case errors.Is(err, provider.ErrAuthFailed):
		return ExitAuthError
	case errors.Is(err, provider.ErrRateLimited), errors.Is(err, provider.ErrInsufficientCredits):
		return ExitNetworkError
	case errors.Is(err, provider.ErrModelNotFound):
		return ExitNotFoundError
	}

	// Structured CLI error types.
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return ExitNotFoundError
	}

	// Check error message content for additional categorization.
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "config") ||
		strings.Contains(errMsg, "configuration") {
		return ExitConfigError
	}

	if strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "permission") ||
		strings.Contains(errMsg, "forbidden") {
		return ExitAuthError
	}

	if strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "connection") ||
		strings.Contains(errMsg, "unreachable") ||
		strings.Contains(errMsg, "dial") {
		return ExitNetworkError
	}

	if strings.Contains(errMsg, "not found") {
		return ExitNotFoundError
	}

	if strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return ExitTimeoutError
	}

	return ExitGeneralError
}

// WrapError wraps an error with additional context.
// Use this to add context as errors bubble up the call stack.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// =============================================================================
// ERROR CHECKING HELPERS
// =============================================================================

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFoundError checks if an error is a not found error.
func IsNotFoundError(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsCommandError checks if an error is a command error.
func IsCommandError(err error) bool {
	var e *CommandError
	return errors.As(err, &e)
}
