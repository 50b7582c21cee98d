// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Archived conversation browsing
//
// CLI: "sidekick history" works against the JSON archive written by ask
// and chat. Conversations are addressed by ID or by list index (0 = most
// recent), so "sidekick history show 0" reopens the last conversation.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/export"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/storage"
	"github.com/jeranaias/sidekick/internal/util"
)

// HandleHistoryCommand dispatches history subcommands.
func HandleHistoryCommand(args *Args) error {
	store, err := storage.NewConversationStore()
	if err != nil {
		return WrapError(err, "failed to open conversation archive")
	}

	switch args.Subcommand {
	case "list", "":
		return handleHistoryList(store, args)
	case "show":
		return handleHistoryShow(store, args)
	case "search":
		return handleHistorySearch(store, args)
	case "delete", "rm":
		return handleHistoryDelete(store, args)
	case "export":
		return handleHistoryExport(store, args)
	case "clear":
		return handleHistoryClear(store, args)
	default:
		return NewValidationErrorWithExample(
			"history action", args.Subcommand,
			"unknown action",
			"list, show, search, delete, export, clear",
		)
	}
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

func handleHistoryList(store *storage.ConversationStore, args *Args) error {
	metas, err := store.List()
	if err != nil {
		return WrapError(err, "failed to list conversations")
	}
	if args.Limit > 0 && len(metas) > args.Limit {
		metas = metas[:args.Limit]
	}
	return outputMetas(metas, args, "")
}

func handleHistorySearch(store *storage.ConversationStore, args *Args) error {
	if len(args.Positional) == 0 {
		return ErrMissingArgument("query", `sidekick history search "goroutine leak"`)
	}
	query := strings.Join(args.Positional, " ")

	// Title/preview matches first, then full message content; results are
	// merged in that order and deduplicated by ID.
	byTitle, err := store.Search(query)
	if err != nil {
		return WrapError(err, "search failed")
	}
	byContent, err := store.SearchMessages(query)
	if err != nil {
		return WrapError(err, "search failed")
	}

	seen := make(map[string]bool)
	var metas []model.ConversationMeta
	for _, m := range append(byTitle, byContent...) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		metas = append(metas, m)
	}

	if args.Limit > 0 && len(metas) > args.Limit {
		metas = metas[:args.Limit]
	}
	return outputMetas(metas, args, query)
}

// outputMetas renders a conversation listing for list and search.
func outputMetas(metas []model.ConversationMeta, args *Args, query string) error {
	if args.JSON {
		data := HistoryListData{Total: len(metas)}
		for _, m := range metas {
			data.Conversations = append(data.Conversations, metaToData(m))
		}
		return OutputJSON("history", data)
	}

	if len(metas) == 0 {
		if query != "" {
			fmt.Printf("no conversations match %q\n", query)
		} else {
			fmt.Println("no conversations saved yet")
		}
		return nil
	}

	if query != "" {
		fmt.Println(SectionStyle.Render(fmt.Sprintf("Conversations matching %q:", query)))
	} else {
		fmt.Println(SectionStyle.Render("Conversations:"))
	}
	for i, m := range metas {
		title := util.TruncateWidth(util.CollapseLines(m.Title), 48)
		fmt.Printf("  %s %s %s\n",
			DimStyle.Render(fmt.Sprintf("[%d]", i)),
			util.PadWidth(title, 48),
			DimStyle.Render(m.ID))
		fmt.Printf("      %s  %d %s  %s/%s\n",
			DimStyle.Render(formatRelativeTime(m.UpdatedAt)),
			m.MessageCount, pluralize("message", m.MessageCount),
			m.Provider, m.Model)
	}
	fmt.Println()
	return nil
}

func metaToData(m model.ConversationMeta) HistoryEntryData {
	return HistoryEntryData{
		ID:           m.ID,
		Title:        m.Title,
		Provider:     m.Provider,
		Model:        m.Model,
		MessageCount: m.MessageCount,
		CreatedAt:    m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    m.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Preview:      m.Preview,
	}
}

// =============================================================================
// SHOW
// =============================================================================

func handleHistoryShow(store *storage.ConversationStore, args *Args) error {
	if len(args.Positional) == 0 {
		return ErrMissingArgument("id or index", "sidekick history show 0")
	}

	conv, err := resolveConversation(store, args.Positional[0])
	if err != nil {
		return err
	}

	if args.JSON {
		return OutputJSON("history", conv)
	}

	fmt.Println(TitleStyle.Render(conv.GetTitle()))
	fmt.Printf("%s %s/%s  %s  %d %s\n\n",
		DimStyle.Render("id:"+conv.ID),
		conv.Provider, conv.Model,
		conv.CreatedAt.Format("2006-01-02 15:04"),
		conv.MessageCount(), pluralize("message", conv.MessageCount()))

	cfg, _ := config.Load()
	useMarkdown := cfg != nil && cfg.UI.Markdown && IsStdoutTTY()

	for _, msg := range conv.Messages {
		if msg.Role == model.RoleSystem || msg.Role == model.RoleTool {
			continue
		}
		switch msg.Role {
		case model.RoleAssistant:
			fmt.Println(SectionStyle.Render(msg.Role.DisplayName() + ":"))
			if useMarkdown {
				fmt.Print(renderMarkdown(msg.Content))
			} else {
				fmt.Println(msg.Content)
			}
		default:
			fmt.Println(HighlightStyle.Render(msg.Role.DisplayName() + ":"))
			fmt.Println(msg.Content)
		}

		for _, ws := range msg.WebSearches {
			fmt.Printf("  %s %s\n", DimStyle.Render("searched:"), ws.Query)
		}
		if msg.Interrupted {
			fmt.Println(DimStyle.Render("(interrupted)"))
		}
		if msg.ResponseTimeMs > 0 {
			fmt.Println(DimStyle.Render(fmt.Sprintf("(%dms)", msg.ResponseTimeMs)))
		}
		fmt.Println()
	}
	return nil
}

// resolveConversation loads a conversation by archive ID or list index.
func resolveConversation(store *storage.ConversationStore, ref string) (*model.Conversation, error) {
	if index, err := strconv.Atoi(ref); err == nil {
		conv, err := store.LoadByIndex(index)
		if err != nil {
			if errors.Is(err, storage.ErrConversationNotFound) {
				return nil, NewNotFoundError("conversation", ref)
			}
			return nil, WrapError(err, "failed to load conversation")
		}
		return conv, nil
	}

	conv, err := store.Load(ref)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, NewNotFoundError("conversation", ref)
		}
		return nil, WrapError(err, "failed to load conversation")
	}
	return conv, nil
}

// =============================================================================
// DELETE / CLEAR
// =============================================================================

func handleHistoryDelete(store *storage.ConversationStore, args *Args) error {
	if len(args.Positional) == 0 {
		return ErrMissingArgument("id or index", "sidekick history delete 0 --confirm")
	}

	conv, err := resolveConversation(store, args.Positional[0])
	if err != nil {
		return err
	}

	err = RequireConfirmation(args.Confirm,
		fmt.Sprintf("delete conversation %q (%s)", conv.GetTitle(), conv.ID), args.JSON)
	if errors.Is(err, ErrCancelled) {
		ShowCancellationMessage(args.JSON)
		return nil
	}
	if err != nil {
		return err
	}

	if err := store.Delete(conv.ID); err != nil {
		return WrapError(err, "failed to delete conversation")
	}

	if args.JSON {
		return OutputJSON("history", map[string]interface{}{
			"action": "delete",
			"id":     conv.ID,
		})
	}
	fmt.Printf("%s deleted %s\n", SuccessStyle.Render("OK"), conv.ID)
	return nil
}

func handleHistoryClear(store *storage.ConversationStore, args *Args) error {
	metas, err := store.List()
	if err != nil {
		return WrapError(err, "failed to list conversations")
	}
	if len(metas) == 0 {
		if args.JSON {
			return OutputJSON("history", map[string]interface{}{"action": "clear", "deleted": 0})
		}
		fmt.Println("no conversations to delete")
		return nil
	}

	err = RequireConfirmation(args.Confirm,
		fmt.Sprintf("delete all %d %s", len(metas), pluralize("conversation", len(metas))), args.JSON)
	if errors.Is(err, ErrCancelled) {
		ShowCancellationMessage(args.JSON)
		return nil
	}
	if err != nil {
		return err
	}

	if err := store.Clear(); err != nil {
		return WrapError(err, "failed to clear conversations")
	}

	if args.JSON {
		return OutputJSON("history", map[string]interface{}{
			"action":  "clear",
			"deleted": len(metas),
		})
	}
	fmt.Printf("%s deleted %d %s\n", SuccessStyle.Render("OK"),
		len(metas), pluralize("conversation", len(metas)))
	return nil
}

// =============================================================================
// EXPORT
// =============================================================================

func handleHistoryExport(store *storage.ConversationStore, args *Args) error {
	if len(args.Positional) == 0 {
		return ErrMissingArgument("id or index", "sidekick history export 0 --format md")
	}

	conv, err := resolveConversation(store, args.Positional[0])
	if err != nil {
		return err
	}

	format := args.Format
	if format == "" {
		format = "md"
	}
	exporter, err := export.ForFormat(format, nil)
	if err != nil {
		return ErrUnsupportedFormat(format, []string{"md", "json"})
	}

	// An explicit --output path wins over the generated filename.
	if args.Output != "" {
		if err := ValidateOutputPath(args.Output); err != nil {
			return err
		}
		content, err := exporter.Export(conv)
		if err != nil {
			return WrapError(err, "export failed")
		}
		if err := os.WriteFile(args.Output, content, 0644); err != nil {
			return WrapError(err, "failed to write export")
		}
		return reportExport(args, conv.ID, format, args.Output, int64(len(content)))
	}

	opts := export.DefaultOptions()
	path, err := export.ExportToFile(conv, exporter, opts)
	if err != nil {
		return WrapError(err, "export failed")
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return reportExport(args, conv.ID, format, path, size)
}

func reportExport(args *Args, id, format, path string, size int64) error {
	if args.JSON {
		return OutputJSON("history", ExportData{
			ID:     id,
			Format: format,
			Path:   path,
			Bytes:  size,
		})
	}
	fmt.Printf("%s exported %s to %s (%s)\n", SuccessStyle.Render("OK"),
		id, path, formatBytes(size))
	return nil
}
