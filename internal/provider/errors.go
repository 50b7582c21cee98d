// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error taxonomy for provider transport failures.
//
// Providers report failures through a JSON envelope of the shape
// {"error":{"code":...,"message":...}}. The envelope is parsed when
// present and mapped onto sentinel errors by HTTP status so callers can
// branch with errors.Is; the raw body is the fallback when the envelope
// is absent or malformed. The full provider message always survives the
// wrapping, because downstream quota classification matches on it.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors for common provider failures.
var (
	// ErrNotConfigured indicates no API key is configured for the provider.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the provider rejected the request for quota
	// or rate-limit reasons.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ProviderError carries a provider's error envelope.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Status   int
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// StreamError wraps an error that occurred mid-stream, preserving the
// partial result accumulated before the failure.
type StreamError struct {
	Partial *StreamResult
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != nil && e.Partial.Text != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial.Text), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// apiErrorEnvelope is the {"error":{...}} shape shared by every supported
// backend. Code is raw because OpenAI sends strings ("invalid_api_key")
// while Google sends integers (429). Anthropic labels the field "type"
// and Google adds a symbolic "status"; either fills in for a missing code.
type apiErrorEnvelope struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Status  string          `json:"status,omitempty"`
		Type    string          `json:"type,omitempty"`
	} `json:"error"`
}

// decodeErrorBody converts an HTTP error response body into an
// appropriate Go error for the given provider.
func decodeErrorBody(provider string, statusCode int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		perr := &ProviderError{
			Provider: provider,
			Code:     strings.Trim(string(envelope.Error.Code), `"`),
			Message:  envelope.Error.Message,
			Status:   statusCode,
		}
		// Google carries a symbolic status (e.g. RESOURCE_EXHAUSTED)
		// alongside the numeric code; keep it visible for classification.
		if envelope.Error.Status != "" && perr.Code == "" {
			perr.Code = envelope.Error.Status
		}
		if envelope.Error.Type != "" && perr.Code == "" {
			perr.Code = envelope.Error.Type
		}

		switch statusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthFailed, perr.Message)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrInsufficientCredits, perr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelNotFound, perr.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, perr.Message)
		default:
			return perr
		}
	}

	// Fallback for unparseable error responses.
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &ProviderError{
			Provider: provider,
			Message:  strings.TrimSpace(string(body)),
			Status:   statusCode,
		}
	}
}

// readErrorResponse drains an error response body (size-capped) and maps
// it through decodeErrorBody.
func readErrorResponse(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	return decodeErrorBody(provider, resp.StatusCode, body)
}

// readResponse reads a success response body with a size cap.
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
