// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/sidekick/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}
	if conv.CreatedAt.IsZero() {
		return nil, fmt.Errorf("conversation has invalid creation timestamp")
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(e.title(conv))))
		sb.WriteString(fmt.Sprintf("provider: %s\n", conv.Provider))
		sb.WriteString(fmt.Sprintf("model: %s\n", conv.Model))
		sb.WriteString(fmt.Sprintf("date: %s\n", conv.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", conv.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: sidekick\n")
		sb.WriteString("---\n\n")
	}

	// Title
	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(e.title(conv))))

	// Metadata section
	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		sb.WriteString(fmt.Sprintf("- **Provider**: %s\n", conv.Provider))
		sb.WriteString(fmt.Sprintf("- **Model**: %s\n", conv.Model))
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(conv.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", formatTimestamp(conv.UpdatedAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", len(conv.Messages)))
		sb.WriteString("\n---\n\n")
	}

	// Conversation messages
	sb.WriteString("## Conversation\n\n")

	for i, msg := range conv.Messages {
		roleLabel := e.formatRoleLabel(msg.Role)
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n",
				roleLabel,
				formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", roleLabel))
		}

		// Searches run while producing this message come first so the
		// answer below reads with its grounding visible.
		if len(msg.WebSearches) > 0 {
			sb.WriteString(e.formatWebSearches(msg.WebSearches))
		}

		content := strings.TrimSpace(msg.Content)
		if content != "" {
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}

		if msg.Image != "" {
			sb.WriteString("*[image attached]*\n\n")
		}
		if msg.Interrupted {
			sb.WriteString("*[generation interrupted]*\n\n")
		}

		if msg.Role == model.RoleAssistant && e.options.IncludeMetadata && msg.ResponseTimeMs > 0 {
			sb.WriteString(fmt.Sprintf("<sub>Response time: %s</sub>\n\n", formatDuration(msg.ResponseTimeMs)))
		}

		// Separator between messages (except last)
		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	// Footer
	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from sidekick on %s*\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func (e *MarkdownExporter) title(conv *model.Conversation) string {
	if conv.Title != "" {
		return conv.Title
	}
	return "Conversation"
}

// formatRoleLabel returns a formatted label for the message role.
func (e *MarkdownExporter) formatRoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "[User]"
	case model.RoleAssistant:
		return "[Assistant]"
	case model.RoleSystem:
		return "[System]"
	case model.RoleTool:
		return "[Tool]"
	default:
		if role == "" {
			return "Unknown"
		}
		runes := []rune(string(role))
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

// formatWebSearches renders the searches attached to a message: each
// query with its sources, collapsed to one block.
func (e *MarkdownExporter) formatWebSearches(searches []model.WebSearch) string {
	var sb strings.Builder
	for _, ws := range searches {
		if ws.Query == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("> **Searched**: %s\n", escapeMarkdown(ws.Query)))
		if ws.Result == nil {
			continue
		}
		for _, src := range ws.Result.Sources {
			if src.Title != "" {
				sb.WriteString(fmt.Sprintf("> - [%s](%s)\n", escapeMarkdown(src.Title), src.URL))
			} else {
				sb.WriteString(fmt.Sprintf("> - <%s>\n", src.URL))
			}
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	sb.WriteString("\n")
	return sb.String()
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	// Quote if contains special characters (including backslash)
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
