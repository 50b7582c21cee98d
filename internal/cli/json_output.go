// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Standardized JSON output structures for CLI commands
//
// USABILITY: Consistent JSON response format across all commands enables
// scripting and automation. Every command supports --json mode with the
// same envelope: {success, data, error, timestamp, command}.

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// =============================================================================
// STANDARD JSON RESPONSE ENVELOPE
// =============================================================================

// JSONResponse is the standard envelope for all JSON output.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *string     `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Command   string      `json:"command"`
}

// NewSuccessResponse creates a successful JSON response.
func NewSuccessResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewErrorResponse creates an error JSON response.
func NewErrorResponse(command string, err error) *JSONResponse {
	errMsg := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Output writes the JSON response to stdout.
func (r *JSONResponse) Output() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// OutputJSON is a convenience function for outputting data as JSON.
func OutputJSON(command string, data interface{}) error {
	return NewSuccessResponse(command, data).Output()
}

// OutputJSONError is a convenience function for outputting an error as JSON.
func OutputJSONError(command string, err error) error {
	return NewErrorResponse(command, err).Output()
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// AskData contains the result of a one-shot ask command.
type AskData struct {
	Response    string       `json:"response"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Provider    string       `json:"provider"`
	Model       string       `json:"model"`
	ElapsedMs   int64        `json:"elapsed_ms"`
	Interrupted bool         `json:"interrupted,omitempty"`
	Sources     []SourceData `json:"sources,omitempty"`
	SavedID     string       `json:"saved_id,omitempty"`
}

// SourceData describes a citation attached to a response.
type SourceData struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// VersionData contains version command output.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// AuthListData contains auth list command output.
type AuthListData struct {
	Providers []AuthProviderData `json:"providers"`
	Encrypted bool               `json:"encrypted"`
}

// AuthProviderData describes the credentials stored for one provider.
type AuthProviderData struct {
	Provider     string   `json:"provider"`
	KeyCount     int      `json:"key_count"`
	Fingerprints []string `json:"fingerprints"`
	Exhausted    int      `json:"exhausted,omitempty"`
	Model        string   `json:"model,omitempty"`
	BaseURL      string   `json:"base_url,omitempty"`
}

// ConfigData contains config command output.
type ConfigData struct {
	Path     string            `json:"path,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
	Key      string            `json:"key,omitempty"`
	Value    string            `json:"value,omitempty"`
}

// HistoryListData contains history list command output.
type HistoryListData struct {
	Conversations []HistoryEntryData `json:"conversations"`
	Total         int                `json:"total"`
}

// HistoryEntryData describes one archived conversation.
type HistoryEntryData struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Preview      string `json:"preview,omitempty"`
}

// ExportData contains history export command output.
type ExportData struct {
	ID     string `json:"id"`
	Format string `json:"format"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes,omitempty"`
}

// DoctorData contains doctor command output.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is a single diagnostic result.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary aggregates check results.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// =============================================================================
// STDERR OUTPUT HELPERS
// =============================================================================

// Stderr prints to stderr, keeping stdout clean for data output.
// PERFORMANCE: Use for status messages so piped stdout stays parseable.
func Stderr(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// Stderrln prints a line to stderr.
func Stderrln(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
}
