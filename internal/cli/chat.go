// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat session
//
// CLI: "sidekick chat" (or bare "sidekick") starts a line-edited REPL.
// Ctrl+C during generation cancels the in-flight turn and keeps the
// partial answer; Ctrl+C at the prompt ends the session. Config edits
// are picked up between turns without restarting.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/session"
	"github.com/jeranaias/sidekick/internal/storage"
)

// chatHistoryFile is the liner input-history file name under the config
// directory. It stores typed prompts, never API keys.
const chatHistoryFile = "chat_history"

// =============================================================================
// CHAT SESSION STATE
// =============================================================================

// ChatSession holds the state of one interactive session.
type ChatSession struct {
	args *Args

	// mu guards cfg, which the config watcher replaces from its own
	// goroutine. Turns read it once at the top under the lock.
	mu  sync.Mutex
	cfg *config.Config

	conv  *model.Conversation
	sess  *session.Session
	store *storage.ConversationStore

	line     *liner.State
	histPath string

	watcher *config.Watcher
	cleanup func()

	started time.Time
	turns   int
}

// HandleChatCommand runs the interactive chat loop.
func HandleChatCommand(args *Args) error {
	if !CanPrompt() {
		return RequiresTTY("chat")
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "failed to load configuration")
	}
	if err := applyGenerationOverrides(cfg, args); err != nil {
		return err
	}

	sess, cleanup, err := newSession(cfg)
	if err != nil {
		return err
	}

	c := &ChatSession{
		args:    args,
		cfg:     cfg,
		sess:    sess,
		cleanup: cleanup,
		started: time.Now(),
	}
	defer c.close()

	c.conv = model.NewConversationWith(cfg.DefaultProvider, cfg.ActiveModel())
	if cfg.SystemPrompt != "" {
		c.conv.SystemPrompt = cfg.SystemPrompt
		c.conv.AddSystemMessage(cfg.SystemPrompt)
	}

	if cfg.History.Enabled {
		if store, err := storage.NewConversationStore(); err == nil {
			store.MaxConversations = cfg.History.MaxConversations
			c.store = store
		}
	}

	c.initLiner()
	c.watchConfig()

	// Ctrl+C during generation arrives as SIGINT because the terminal is
	// in cooked mode while streaming; at the liner prompt the terminal is
	// raw and liner reports ErrPromptAborted instead. The handler only
	// ever cancels the in-flight turn.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			c.sess.Cancel()
		}
	}()

	c.printWelcome()

	for {
		input, err := c.line.Prompt(c.promptLabel())
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) or io.EOF (Ctrl+D) both
			// end the session.
			fmt.Println()
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		c.line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			break
		}
		if strings.HasPrefix(input, "/") {
			if c.handleSlashCommand(input) {
				break
			}
			continue
		}

		c.runTurn(input)
	}

	c.archive()
	c.printExitSummary()
	return nil
}

// close releases the liner terminal state, the config watcher and the
// state store, in that order.
func (c *ChatSession) close() {
	if c.line != nil {
		c.saveLinerHistory()
		c.line.Close()
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
	if c.cleanup != nil {
		c.cleanup()
	}
}

// =============================================================================
// LINE EDITING
// =============================================================================

// initLiner sets up the line editor with persistent input history.
func (c *ChatSession) initLiner() {
	c.line = liner.NewLiner()
	c.line.SetCtrlCAborts(true)

	if dir, err := config.ConfigDir(); err == nil {
		c.histPath = filepath.Join(dir, chatHistoryFile)
		if f, err := os.Open(c.histPath); err == nil {
			c.line.ReadHistory(f)
			f.Close()
		}
	}
}

// saveLinerHistory persists input history with user-only permissions.
func (c *ChatSession) saveLinerHistory() {
	if c.histPath == "" {
		return
	}
	f, err := os.OpenFile(c.histPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// promptLabel renders the input prompt with the active model.
func (c *ChatSession) promptLabel() string {
	c.mu.Lock()
	mdl := c.cfg.ActiveModel()
	c.mu.Unlock()
	return fmt.Sprintf("%s ", HighlightStyle.Render(mdl+">"))
}

// =============================================================================
// CONFIG HOT RELOAD
// =============================================================================

// watchConfig reloads provider settings edited while the session runs.
// The swap is deferred to the next turn boundary so an in-flight stream
// keeps its settings.
func (c *ChatSession) watchConfig() {
	path, err := config.ConfigPath()
	if err != nil {
		return
	}
	w, err := config.NewWatcher(path, func(next *config.Config) {
		if err := applyGenerationOverrides(next, c.args); err != nil {
			return
		}
		c.mu.Lock()
		c.cfg = next
		c.mu.Unlock()
		Stderr("\n%s\n", DimStyle.Render("config reloaded"))
	})
	if err != nil {
		return
	}
	if err := w.Watch(); err != nil {
		w.Close()
		return
	}
	c.watcher = w
}

// currentConfig returns the config snapshot for the next turn.
func (c *ChatSession) currentConfig() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// runTurn sends one user message and streams the reply to the terminal.
func (c *ChatSession) runTurn(input string) {
	cfg := c.currentConfig()

	c.conv.AddUserMessage(input)
	fmt.Println()

	var searches []model.WebSearch
	printedReasoning := false

	handlers := session.Handlers{
		OnChunk: func(text string) {
			if printedReasoning {
				// Separate the answer from streamed reasoning.
				fmt.Print("\n\n")
				printedReasoning = false
			}
			fmt.Print(text)
		},
		OnReasoning: func(text string) {
			fmt.Print(DimStyle.Render(text))
			printedReasoning = true
		},
		OnWebSearch: func(event session.SearchEvent) {
			if event.StartNewMessage {
				fmt.Print("\n\n")
				return
			}
			if event.IsSearching {
				fmt.Printf("%s %s\n", DimStyle.Render("searching:"), event.Query)
				return
			}
			searches = append(searches, event.WebSearch)
		},
	}

	result := c.sess.Open(context.Background(), c.conv.Messages, cfg, handlers)

	if result.Err != nil && result.Text == "" && !result.Interrupted {
		// Nothing usable came back. Drop the user message so the next
		// attempt is not poisoned by a failed turn.
		c.conv.Messages = c.conv.Messages[:len(c.conv.Messages)-1]
		fmt.Println()
		DisplayError(result.Err, false)
		return
	}

	elapsed := time.Duration(result.ElapsedMs) * time.Millisecond
	msg := c.conv.FinishAssistant(result.Text, elapsed, result.Interrupted)
	msg.WebSearches = searches
	c.turns++

	if !strings.HasSuffix(result.Text, "\n") {
		fmt.Println()
	}
	displaySources(collectSources(result.Sources, searches))

	if result.Interrupted {
		fmt.Println(DimStyle.Render("(interrupted)"))
	}
	if result.Err != nil {
		DisplayError(result.Err, false)
	}
	if !c.args.Quiet {
		fmt.Println(DimStyle.Render(fmt.Sprintf("[%s/%s] %s", cfg.DefaultProvider, cfg.ActiveModel(), formatDurationShort(elapsed))))
	}
	fmt.Println()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand executes an in-session command. Returns true when
// the session should end.
func (c *ChatSession) handleSlashCommand(input string) bool {
	parts := strings.Fields(input)
	cmd := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.Join(parts[1:], " ")
	}

	switch cmd {
	case "/help":
		c.printHelp()
	case "/clear":
		c.clearConversation()
	case "/model":
		c.switchModel(arg)
	case "/provider":
		c.switchProvider(arg)
	case "/search":
		c.toggleSearch(arg)
	case "/status":
		c.printStatus()
	case "/history":
		c.printTranscript()
	case "/save":
		c.saveNow()
	case "/quit", "/exit":
		return true
	default:
		fmt.Printf("%s unknown command %s (try /help)\n", WarningStyle.Render("?"), cmd)
	}
	return false
}

func (c *ChatSession) printWelcome() {
	cfg := c.currentConfig()
	fmt.Println(TitleStyle.Render("sidekick chat"))
	fmt.Printf("%s %s/%s", DimStyle.Render("using"), cfg.DefaultProvider, cfg.ActiveModel())
	if cfg.WebSearch.Enabled {
		fmt.Printf(" %s", DimStyle.Render("(web search on)"))
	}
	fmt.Println()
	fmt.Println(DimStyle.Render("type /help for commands, exit to leave"))
	fmt.Println()
}

func (c *ChatSession) printHelp() {
	fmt.Println(SectionStyle.Render("Session commands:"))
	rows := [][2]string{
		{"/model [id]", "show or switch the model"},
		{"/provider [id]", "show or switch the provider"},
		{"/search on|off", "toggle web search"},
		{"/status", "session status"},
		{"/history", "show this conversation"},
		{"/save", "archive the conversation now"},
		{"/clear", "start a fresh conversation"},
		{"/quit", "leave (exit and quit also work)"},
	}
	for _, r := range rows {
		fmt.Printf("  %s %s\n", LabelStyle.Render(r[0]), r[1])
	}
	fmt.Println()
}

// clearConversation starts over, keeping the system prompt.
func (c *ChatSession) clearConversation() {
	systemPrompt := c.conv.SystemPrompt
	c.conv.ClearHistory()
	if systemPrompt != "" {
		c.conv.AddSystemMessage(systemPrompt)
	}
	fmt.Println(DimStyle.Render("conversation cleared"))
	fmt.Println()
}

// switchModel shows or changes the active model.
func (c *ChatSession) switchModel(arg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if arg == "" {
		fmt.Printf("%s %s\n", LabelStyle.Render("model:"), c.cfg.ActiveModel())
		for _, info := range model.ModelsForProvider(c.cfg.DefaultProvider) {
			fmt.Printf("  %s %s\n", info.ID, DimStyle.Render(info.Description))
		}
		fmt.Println()
		return
	}

	modelID := arg
	if info, ok := model.GetModelInfo(arg); ok {
		modelID = info.ID
		if model.IsBuiltinProvider(info.Provider) {
			c.cfg.DefaultProvider = info.Provider
		}
	}
	if custom, ok := c.cfg.CustomByID(c.cfg.DefaultProvider); ok {
		custom.Model = modelID
	} else if err := c.cfg.Set("providers."+c.cfg.DefaultProvider+".model", modelID); err != nil {
		DisplayError(err, false)
		return
	}
	c.conv.Model = modelID
	c.conv.Provider = c.cfg.DefaultProvider
	fmt.Printf("%s %s/%s\n\n", DimStyle.Render("switched to"), c.cfg.DefaultProvider, modelID)
}

// switchProvider shows or changes the active provider.
func (c *ChatSession) switchProvider(arg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if arg == "" {
		fmt.Printf("%s %s\n", LabelStyle.Render("provider:"), c.cfg.DefaultProvider)
		for _, id := range c.cfg.ProviderIDs() {
			marker := " "
			if id == c.cfg.DefaultProvider {
				marker = HighlightStyle.Render("*")
			}
			keys := len(c.cfg.ProviderKeys(id))
			fmt.Printf("  %s %s %s\n", marker, id, DimStyle.Render(fmt.Sprintf("(%d keys)", keys)))
		}
		fmt.Println()
		return
	}

	id := strings.ToLower(strings.TrimSpace(arg))
	if !model.IsBuiltinProvider(id) && !c.cfg.IsCustom(id) {
		fmt.Printf("%s unknown provider %q\n\n", ErrorStyle.Render("!"), arg)
		return
	}
	c.cfg.DefaultProvider = id
	c.conv.Provider = id
	c.conv.Model = c.cfg.ActiveModel()
	fmt.Printf("%s %s/%s\n\n", DimStyle.Render("switched to"), id, c.cfg.ActiveModel())
}

// toggleSearch flips web search for the rest of the session.
func (c *ChatSession) toggleSearch(arg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch strings.ToLower(arg) {
	case "on":
		c.cfg.WebSearch.Enabled = true
	case "off":
		c.cfg.WebSearch.Enabled = false
	case "":
		c.cfg.WebSearch.Enabled = !c.cfg.WebSearch.Enabled
	default:
		fmt.Printf("%s usage: /search on|off\n\n", WarningStyle.Render("?"))
		return
	}
	state := "off"
	if c.cfg.WebSearch.Enabled {
		state = "on"
	}
	fmt.Printf("%s %s\n\n", DimStyle.Render("web search"), state)
}

// printStatus shows the session state.
func (c *ChatSession) printStatus() {
	cfg := c.currentConfig()

	search := "off"
	if cfg.WebSearch.Enabled {
		search = "on (" + cfg.WebSearch.Backend + ")"
		if cfg.WebSearch.Backend == "" {
			search = "on (auto)"
		}
	}

	fmt.Println(SectionStyle.Render("Session status:"))
	fmt.Printf("  %s %s\n", LabelStyle.Render("provider:"), cfg.DefaultProvider)
	fmt.Printf("  %s %s\n", LabelStyle.Render("model:"), cfg.ActiveModel())
	fmt.Printf("  %s %s\n", LabelStyle.Render("web search:"), search)
	fmt.Printf("  %s %d\n", LabelStyle.Render("messages:"), c.conv.MessageCount())
	fmt.Printf("  %s ~%s\n", LabelStyle.Render("tokens:"), formatNumber(c.conv.EstimateTokens()))
	fmt.Printf("  %s %s\n", LabelStyle.Render("uptime:"), formatDuration(time.Since(c.started)))
	fmt.Println()
}

// printTranscript prints the conversation so far.
func (c *ChatSession) printTranscript() {
	if c.conv.IsEmpty() {
		fmt.Println(DimStyle.Render("no messages yet"))
		fmt.Println()
		return
	}
	for _, msg := range c.conv.Messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		label := msg.Role.DisplayName()
		if msg.Role == model.RoleAssistant {
			fmt.Printf("%s", SectionStyle.Render(label+": "))
		} else {
			fmt.Printf("%s", HighlightStyle.Render(label+": "))
		}
		text := msg.Preview(200)
		if msg.Interrupted {
			text += DimStyle.Render(" (interrupted)")
		}
		fmt.Println(text)
	}
	fmt.Println()
}

// saveNow archives the conversation immediately.
func (c *ChatSession) saveNow() {
	if c.store == nil {
		fmt.Println(WarningStyle.Render("history is disabled; enable it with: sidekick config set history.enabled true"))
		fmt.Println()
		return
	}
	if c.turns == 0 {
		fmt.Println(DimStyle.Render("nothing to save yet"))
		fmt.Println()
		return
	}
	id, err := c.store.Save(c.conv)
	if err != nil {
		DisplayError(WrapError(err, "failed to save conversation"), false)
		return
	}
	fmt.Printf("%s %s\n\n", DimStyle.Render("saved:"), id)
}

// archive persists the conversation at session end.
func (c *ChatSession) archive() {
	if c.store == nil || c.turns == 0 {
		return
	}
	c.store.Save(c.conv)
}

// printExitSummary prints a parting line with session totals.
func (c *ChatSession) printExitSummary() {
	if c.turns == 0 {
		return
	}
	summary := fmt.Sprintf("%d %s in %s", c.turns, pluralize("turn", c.turns), formatDuration(time.Since(c.started)))
	if c.store != nil && c.conv.ID != "" {
		summary += "  saved: " + c.conv.ID
	}
	fmt.Println(DimStyle.Render(summary))
}

// pluralize appends "s" for counts other than one.
func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
