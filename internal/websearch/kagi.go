// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/provider"
)

// =============================================================================
// KAGI BACKEND
// =============================================================================

// KagiEndpoint is the streaming assistant endpoint, authenticated by the
// kagi_session cookie. Undocumented; the response shape may drift.
const KagiEndpoint = "https://kagi.com/assistant/prompt"

// kagiMarker prefixes the embedded JSON payload inside the otherwise
// loosely structured response body.
const kagiMarker = "new_message.json:"

var (
	// kagiReferencePattern matches one markdown footnote reference:
	// [^N]: [Title](url)
	kagiReferencePattern = regexp.MustCompile(`\[\^(\d+)\]:\s*\[([^\]]*)\]\((https?://[^\s)]+)\)`)

	// kagiMDPattern scrapes the answer span out of raw body text when
	// structured parsing fails.
	kagiMDPattern = regexp.MustCompile(`"md":"((?:[^"\\]|\\.)*)"`)
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
var kagiHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: 60 * time.Second,
}

// kagiMessage is the useful subset of the embedded payload.
type kagiMessage struct {
	MD           string `json:"md"`
	ReferencesMD string `json:"references_md"`
}

// searchKagi answers via the Kagi assistant. The endpoint streams
// newline-delimited loosely structured text; parsing is best-effort with
// progressively cruder fallbacks, ending at the raw body.
func (e *Executor) searchKagi(ctx context.Context, query string) (*model.WebSearchResult, error) {
	session := e.cfg.WebSearch.KagiSession
	if session == "" {
		return &model.WebSearchResult{
			Content: "web search unavailable: no Kagi session cookie configured",
		}, nil
	}

	body, err := e.kagiRequest(ctx, query, session)
	if err != nil {
		return e.degrade(BackendKagi, query, err)
	}
	return parseKagiResponse(body), nil
}

// kagiRequest performs the authenticated request and returns the raw
// body text.
func (e *Executor) kagiRequest(ctx context.Context, query, session string) (string, error) {
	payload, err := json.Marshal(map[string]string{"prompt": query})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.kagiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.AddCookie(&http.Cookie{Name: "kagi_session", Value: session})

	resp, err := kagiHTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// SECURITY: Response size limit prevents memory exhaustion attacks.
	body, err := io.ReadAll(io.LimitReader(resp.Body, provider.MaxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := strings.TrimSpace(string(body))
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return "", fmt.Errorf("kagi returned HTTP %d: %s", resp.StatusCode, preview)
	}
	return string(body), nil
}

// parseKagiResponse extracts answer text and citations from a response
// body. Fallback ladder: structured payload, then regex scrape of the
// md span, then the raw body itself.
func parseKagiResponse(body string) *model.WebSearchResult {
	result := &model.WebSearchResult{}

	if raw, found := kagiPayload(body); found {
		if msg, ok := parseKagiJSON(raw); ok {
			result.Content = msg.MD
			result.Sources = kagiReferences(msg.ReferencesMD)
		}
	}

	if result.Content == "" {
		if m := kagiMDPattern.FindStringSubmatch(body); m != nil {
			result.Content = kagiUnescape(m[1])
		}
	}

	if result.Content == "" {
		result.Content = strings.TrimSpace(body)
	}
	if result.Content == "" {
		result.Content = "web search returned an empty response"
	}
	return result
}

// kagiPayload returns the text after the last marker occurrence. The
// stream repeats the message state as it grows; the last occurrence is
// the most complete.
func kagiPayload(body string) (string, bool) {
	i := strings.LastIndex(body, kagiMarker)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(body[i+len(kagiMarker):]), true
}

// parseKagiJSON decodes the embedded payload. Bodies cut off mid-stream
// leave trailing non-JSON text after the object; retry after trimming to
// the last closing brace.
func parseKagiJSON(raw string) (kagiMessage, bool) {
	var msg kagiMessage
	if err := json.Unmarshal([]byte(raw), &msg); err == nil {
		return msg, true
	}
	if i := strings.LastIndex(raw, "}"); i >= 0 {
		if err := json.Unmarshal([]byte(raw[:i+1]), &msg); err == nil {
			return msg, true
		}
	}
	return kagiMessage{}, false
}

// kagiReferences extracts citations from the markdown footnote list.
func kagiReferences(refs string) []model.Source {
	var sources []model.Source
	for _, m := range kagiReferencePattern.FindAllStringSubmatch(refs, -1) {
		sources = append(sources, model.Source{Title: m[2], URL: m[3]})
	}
	return sources
}

// kagiUnescape reverses the JSON string escapes the md span actually
// uses. Single left-to-right pass, so an escaped backslash never
// re-triggers on its following character.
func kagiUnescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`).Replace(s)
}
