// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// request.go - Request normalization shared by all adapters.
package provider

import (
	"strings"
	"time"

	"github.com/jeranaias/sidekick/internal/model"
)

// sanitizeMessages prepares a conversation for transmission: assistant
// messages with no content, no image, and no tool calls are dropped
// (several providers reject them), and messages are passed through
// otherwise unchanged. UI-only fields such as web-search attachments are
// never serialized by the adapters, so stripping them needs no copying
// here.
func sanitizeMessages(messages []*model.Message) []*model.Message {
	out := make([]*model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.Role == model.RoleAssistant && msg.IsEmpty() {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// splitDataURL parses a base64 data URL ("data:image/png;base64,AAAA…")
// into its mime type and payload. Returns ok=false for anything that is
// not a well-formed base64 data URL.
func splitDataURL(dataURL string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(dataURL, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, _, _ = strings.Cut(meta, ";")
	if mimeType == "" || !strings.Contains(meta, "base64") {
		return "", "", false
	}
	return mimeType, payload, true
}

// dateTimeLine renders a human-readable long-form current date and time
// for injection into the system context, so models answer "what day is
// it" style questions correctly.
func dateTimeLine(now time.Time) string {
	return "Current date and time: " + now.Format("Monday, January 2, 2006 at 3:04 PM MST")
}

// systemPromptWithDateTime merges the request's system prompt with the
// current date/time line. The line is appended to an existing prompt or
// stands alone when there is none.
func systemPromptWithDateTime(prompt string, now time.Time) string {
	line := dateTimeLine(now)
	if prompt == "" {
		return line
	}
	return prompt + "\n\n" + line
}
