// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command
//
// CLI: "sidekick ask <prompt>" streams one answer and exits. On a TTY the
// answer is collected and rendered as markdown; when stdout is piped,
// chunks stream raw so the output composes in pipelines. Piped stdin
// becomes context ahead of the prompt:
//
//	cat main.go | sidekick ask "review this code"

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/session"
	"github.com/jeranaias/sidekick/internal/storage"
)

// MaxFileSize caps --file context attachments.
const MaxFileSize = 50 * 1024

// MaxStdinSize caps piped stdin context.
const MaxStdinSize = 200 * 1024

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	rendererOnce sync.Once
	mdRenderer   *glamour.TermRenderer
)

// markdownRenderer returns the shared glamour renderer, or nil when
// stdout is not a terminal or initialization failed.
func markdownRenderer() *glamour.TermRenderer {
	rendererOnce.Do(func() {
		if !IsStdoutTTY() {
			return
		}
		width := GetTerminalWidth()
		if width > 100 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			mdRenderer = r
		}
	})
	return mdRenderer
}

// renderMarkdown renders text for the terminal, falling back to the raw
// text when rendering is unavailable or fails.
func renderMarkdown(text string) string {
	r := markdownRenderer()
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

// =============================================================================
// ASK COMMAND
// =============================================================================

// HandleAskCommand runs a one-shot question against the active provider.
func HandleAskCommand(args *Args) error {
	query := strings.TrimSpace(args.Query)

	stdinContent, err := readPipedStdin()
	if err != nil {
		return WrapError(err, "failed to read stdin")
	}

	if query == "" && stdinContent == "" {
		return ErrMissingArgument("prompt", `sidekick ask "how do I profile a goroutine leak"`)
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}
	if err := applyGenerationOverrides(cfg, args); err != nil {
		return err
	}

	prompt := query
	if args.File != "" {
		fileContext, err := readFileForContext(args.File)
		if err != nil {
			return err
		}
		prompt = fileContext + "\n\n" + prompt
	}
	if stdinContent != "" {
		prompt = stdinContent + "\n\n" + prompt
	}
	prompt = strings.TrimSpace(prompt)

	conv := model.NewConversationWith(cfg.DefaultProvider, cfg.ActiveModel())
	if cfg.SystemPrompt != "" {
		conv.SystemPrompt = cfg.SystemPrompt
		conv.AddSystemMessage(cfg.SystemPrompt)
	}
	conv.AddUserMessage(prompt)

	sess, cleanup, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Collect-then-render on a TTY; stream raw when piped.
	useMarkdown := cfg.UI.Markdown && IsStdoutTTY() && !args.JSON
	collect := useMarkdown || args.JSON

	var collected strings.Builder
	var searches []model.WebSearch

	handlers := session.Handlers{
		OnChunk: func(text string) {
			if collect {
				collected.WriteString(text)
			} else {
				fmt.Print(text)
			}
		},
		OnReasoning: func(text string) {
			if args.Verbose && !args.JSON {
				Stderr("%s", DimStyle.Render(text))
			}
		},
		OnWebSearch: func(event session.SearchEvent) {
			if event.StartNewMessage {
				if collect {
					collected.WriteString("\n\n")
				} else {
					fmt.Print("\n\n")
				}
				return
			}
			if event.IsSearching {
				if !args.Quiet && !args.JSON {
					Stderr("%s %s\n", DimStyle.Render("searching:"), event.Query)
				}
				return
			}
			searches = append(searches, event.WebSearch)
		},
	}

	result := sess.Open(context.Background(), conv.Messages, cfg, handlers)

	if result.Err != nil && result.Text == "" {
		return result.Err
	}

	elapsed := time.Duration(result.ElapsedMs) * time.Millisecond
	msg := conv.FinishAssistant(result.Text, elapsed, result.Interrupted)
	msg.WebSearches = searches

	savedID := archiveConversation(cfg, conv)

	if args.JSON {
		data := AskData{
			Response:    result.Text,
			Reasoning:   result.Reasoning,
			Provider:    conv.Provider,
			Model:       conv.Model,
			ElapsedMs:   result.ElapsedMs,
			Interrupted: result.Interrupted,
			Sources:     sourcesToData(collectSources(result.Sources, searches)),
			SavedID:     savedID,
		}
		if err := OutputJSON("ask", data); err != nil {
			return err
		}
		return result.Err
	}

	if useMarkdown {
		fmt.Print(renderMarkdown(collected.String()))
	} else if !strings.HasSuffix(result.Text, "\n") {
		fmt.Println()
	}

	displaySources(collectSources(result.Sources, searches))

	if !args.Quiet {
		status := fmt.Sprintf("[%s/%s] %s", conv.Provider, conv.Model, formatDurationShort(elapsed))
		if savedID != "" {
			status += "  saved: " + savedID
		}
		Stderr("\n%s\n", DimStyle.Render(status))
	}

	return result.Err
}

// =============================================================================
// SHARED SESSION PLUMBING
// =============================================================================

// newSession builds a streaming session backed by the configured state
// store. The cleanup func releases store resources.
func newSession(cfg *config.Config) (*session.Session, func(), error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, nil, WrapError(err, "failed to resolve config directory")
	}
	kv, err := storage.OpenKV(cfg.Storage.Backend, dir)
	if err != nil {
		return nil, nil, WrapError(err, "failed to open state store")
	}
	cleanup := func() {}
	if closer, ok := kv.(io.Closer); ok {
		cleanup = func() { closer.Close() }
	}
	return session.NewSession(keyring.NewRotator(kv)), cleanup, nil
}

// applyGenerationOverrides applies --provider, --model, --system and
// --no-search to a loaded config. Overrides are per-invocation and never
// written back to disk.
func applyGenerationOverrides(cfg *config.Config, args *Args) error {
	if args.Provider != "" {
		id := strings.ToLower(strings.TrimSpace(args.Provider))
		if !model.IsBuiltinProvider(id) && !cfg.IsCustom(id) {
			return NewValidationErrorWithExample(
				"provider", args.Provider,
				"unknown provider",
				strings.Join(cfg.ProviderIDs(), ", "),
			)
		}
		cfg.DefaultProvider = id
	}

	if args.Model != "" {
		modelID := args.Model
		if info, ok := model.GetModelInfo(args.Model); ok {
			modelID = info.ID
			// A known model implies its provider unless one was forced.
			if args.Provider == "" && model.IsBuiltinProvider(info.Provider) {
				cfg.DefaultProvider = info.Provider
			}
		}
		if custom, ok := cfg.CustomByID(cfg.DefaultProvider); ok {
			custom.Model = modelID
		} else if err := cfg.Set("providers."+cfg.DefaultProvider+".model", modelID); err != nil {
			return WrapError(err, "failed to apply model override")
		}
	}

	if args.System != "" {
		cfg.SystemPrompt = args.System
	}

	if args.NoSearch {
		cfg.WebSearch.Enabled = false
	}

	return nil
}

// archiveConversation saves a finished conversation when history is
// enabled. Archive failures are non-fatal; the answer already streamed.
func archiveConversation(cfg *config.Config, conv *model.Conversation) string {
	if !cfg.History.Enabled || conv.IsEmpty() {
		return ""
	}
	store, err := storage.NewConversationStore()
	if err != nil {
		return ""
	}
	store.MaxConversations = cfg.History.MaxConversations
	id, err := store.Save(conv)
	if err != nil {
		return ""
	}
	return id
}

// =============================================================================
// INPUT HELPERS
// =============================================================================

// readPipedStdin returns piped stdin content, or empty when stdin is a
// terminal.
func readPipedStdin() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", nil
	}
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, MaxStdinSize))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readFileForContext reads a file for --file, enforcing the size cap and
// framing the content so the model can tell context from question.
func readFileForContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewNotFoundError("file", path)
		}
		return "", WrapError(err, "failed to read file")
	}
	if info.IsDir() {
		return "", NewValidationError("file", path, "is a directory, not a file")
	}
	if info.Size() > MaxFileSize {
		return "", NewValidationError("file", path,
			fmt.Sprintf("file too large (%s, max %s)", formatBytes(info.Size()), formatBytes(MaxFileSize)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", WrapError(err, "failed to read file")
	}

	return fmt.Sprintf("--- File: %s ---\n%s\n--- End of file ---", path, string(data)), nil
}

// =============================================================================
// SOURCE DISPLAY
// =============================================================================

// collectSources merges native citations with tool-loop search sources,
// deduplicating by URL in first-seen order.
func collectSources(native []model.Source, searches []model.WebSearch) []model.Source {
	seen := make(map[string]bool)
	var all []model.Source
	add := func(s model.Source) {
		if s.URL == "" || seen[s.URL] {
			return
		}
		seen[s.URL] = true
		all = append(all, s)
	}
	for _, s := range native {
		add(s)
	}
	for _, ws := range searches {
		if ws.Result == nil {
			continue
		}
		for _, s := range ws.Result.Sources {
			add(s)
		}
	}
	return all
}

// displaySources prints a numbered citation list after the answer.
func displaySources(sources []model.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(SectionStyle.Render("Sources:"))
	for i, s := range sources {
		if s.Title != "" {
			fmt.Printf("  %d. %s\n     %s\n", i+1, s.Title, DimStyle.Render(s.URL))
		} else {
			fmt.Printf("  %d. %s\n", i+1, DimStyle.Render(s.URL))
		}
	}
}

// sourcesToData converts sources for JSON output.
func sourcesToData(sources []model.Source) []SourceData {
	if len(sources) == 0 {
		return nil
	}
	out := make([]SourceData, 0, len(sources))
	for _, s := range sources {
		out = append(out, SourceData{Title: s.Title, URL: s.URL})
	}
	return out
}
