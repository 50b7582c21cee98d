// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line argument parsing and dispatch
//
// sidekick runs in two modes:
//   - bare invocation drops into an interactive chat session
//   - a free-form prompt ("sidekick how do I ...") becomes a one-shot ask
//
// Everything else is a named command with its own flags.

package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information, set at build time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// COMMAND ENUMERATION
// =============================================================================

// Command identifies which CLI command was invoked.
type Command int

const (
	CmdNone Command = iota
	CmdAsk
	CmdChat
	CmdAuth
	CmdConfig
	CmdHistory
	CmdDoctor
	CmdVersion
	CmdHelp
)

// String returns the command name for logging and JSON output.
func (c Command) String() string {
	switch c {
	case CmdAsk:
		return "ask"
	case CmdChat:
		return "chat"
	case CmdAuth:
		return "auth"
	case CmdConfig:
		return "config"
	case CmdHistory:
		return "history"
	case CmdDoctor:
		return "doctor"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "none"
	}
}

// commandNames maps CLI words to commands. Unknown words fall through to
// ask, so "sidekick explain monads" works without typing "ask".
var commandNames = map[string]Command{
	"ask":     CmdAsk,
	"chat":    CmdChat,
	"auth":    CmdAuth,
	"config":  CmdConfig,
	"history": CmdHistory,
	"doctor":  CmdDoctor,
	"version": CmdVersion,
	"help":    CmdHelp,
}

// =============================================================================
// PARSED ARGUMENTS
// =============================================================================

// Args holds all parsed command-line arguments.
type Args struct {
	// Global flags
	JSON    bool
	Quiet   bool
	Verbose bool
	NoColor bool

	// Generation overrides (ask, chat)
	Model    string
	Provider string
	System   string
	File     string
	NoSearch bool

	// Ask query text
	Query string

	// Subcommand routing (auth, config, history)
	Subcommand string
	Positional []string

	// Config operations
	ConfigKey   string
	ConfigValue string

	// History and auth operations
	Format  string
	Output  string
	Limit   int
	Index   int
	Confirm bool
	Encrypt bool

	// Raw arguments after the command word
	Raw []string
}

// =============================================================================
// USAGE TEXT
// =============================================================================

const usageText = `sidekick - LLM assistant for your terminal

USAGE:
    sidekick                          Start an interactive chat session
    sidekick <prompt...>              Ask a one-shot question
    sidekick <command> [options]

COMMANDS:
    ask <prompt>      One-shot question, streams the answer
    chat              Interactive chat session (default)
    auth <action>     Manage provider API keys
    config <action>   Inspect and edit configuration
    history <action>  Browse archived conversations
    doctor            Diagnose configuration and credentials
    version           Show version information
    help              Show this help

ASK / CHAT OPTIONS:
    --model <id>      Override the model for this session
    --provider <id>   Override the provider for this session
    --file <path>     Attach a file as context (ask only, max 50 KB)
    --system <text>   Override the system prompt
    --no-search       Disable web search
    --quiet           Suppress status output

AUTH ACTIONS:
    set <provider> [key]   Store an API key (prompts securely if omitted)
    list                   List providers with key fingerprints
    remove <provider>      Remove a key (--index N picks one of several)

CONFIG ACTIONS:
    list                   Show all settings
    get <key>              Show one setting (dot notation, e.g. websearch.backend)
    set <key> <value>      Change a setting
    path                   Print the config file location

HISTORY ACTIONS:
    list [--limit N]       List recent conversations
    show <id|index>        Print a conversation
    search <query>         Search titles and message content
    delete <id>            Delete a conversation (--confirm skips prompt)
    export <id>            Export a conversation (--format md|json, --output <path>)
    clear                  Delete all conversations (--confirm skips prompt)

GLOBAL OPTIONS:
    --json            Machine-readable JSON output
    --verbose         Debug logging to stderr
    --no-color        Disable ANSI colors
    --help, -h        Show this help
    --version, -v     Show version

EXAMPLES:
    sidekick how do I read a file line by line in go
    sidekick ask --model sonar-pro "latest rust release notes"
    cat main.go | sidekick ask "review this code"
    sidekick chat --provider anthropic
    sidekick auth set openai
    sidekick history export 3 --format md --output notes.md

Configuration lives in ~/.sidekick/config.toml. Run "sidekick doctor"
to verify your setup.`

// PrintUsage writes the usage text to stdout.
func PrintUsage() {
	fmt.Println(usageText)
}

// =============================================================================
// ARGUMENT PARSING
// =============================================================================

// Parse parses os.Args and returns the command plus its arguments.
//
// CLI: no arguments means chat; an unrecognized first word means the
// whole invocation is a prompt for ask.
func Parse() (Command, *Args) {
	return parseArgs(os.Args[1:])
}

// parseArgs is the testable core of Parse.
func parseArgs(raw []string) (Command, *Args) {
	args := &Args{Index: -1}

	raw = extractLeadingGlobalFlags(raw, args)

	if len(raw) == 0 {
		return CmdChat, args
	}

	// Leading global flags can resolve directly to a command.
	switch raw[0] {
	case "--help", "-h":
		return CmdHelp, args
	case "--version", "-v":
		return CmdVersion, args
	}

	cmd, known := commandNames[raw[0]]
	if !known {
		// Not a command word: the whole invocation is a prompt.
		parseAskArgs(raw, args)
		return CmdAsk, args
	}

	rest := raw[1:]
	args.Raw = rest

	switch cmd {
	case CmdAsk:
		parseAskArgs(rest, args)
	case CmdChat:
		parseChatArgs(rest, args)
	case CmdAuth:
		parseAuthArgs(rest, args)
	case CmdConfig:
		parseConfigArgs(rest, args)
	case CmdHistory:
		parseHistoryArgs(rest, args)
	case CmdDoctor, CmdVersion, CmdHelp:
		parseBasicArgs(rest, args)
	}

	return cmd, args
}

// extractLeadingGlobalFlags consumes global flags that appear before the
// command word and returns the remaining arguments.
func extractLeadingGlobalFlags(raw []string, args *Args) []string {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case "--json":
			args.JSON = true
		case "--quiet", "-q":
			args.Quiet = true
		case "--verbose":
			args.Verbose = true
		case "--no-color":
			args.NoColor = true
		default:
			return raw[i:]
		}
		i++
	}
	return raw[i:]
}

// parseAskArgs parses ask flags; everything that is not a known flag
// becomes part of the query text.
func parseAskArgs(raw []string, args *Args) {
	var queryParts []string

	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case "--model", "-m":
			if i+1 < len(raw) {
				args.Model = raw[i+1]
				i++
			}
		case "--provider", "-p":
			if i+1 < len(raw) {
				args.Provider = raw[i+1]
				i++
			}
		case "--file", "-f":
			if i+1 < len(raw) {
				args.File = raw[i+1]
				i++
			}
		case "--system":
			if i+1 < len(raw) {
				args.System = raw[i+1]
				i++
			}
		case "--no-search":
			args.NoSearch = true
		case "--json":
			args.JSON = true
		case "--quiet", "-q":
			args.Quiet = true
		case "--verbose":
			args.Verbose = true
		case "--no-color":
			args.NoColor = true
		default:
			queryParts = append(queryParts, raw[i])
		}
	}

	args.Query = strings.Join(queryParts, " ")
}

// parseChatArgs parses chat session flags.
func parseChatArgs(raw []string, args *Args) {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case "--model", "-m":
			if i+1 < len(raw) {
				args.Model = raw[i+1]
				i++
			}
		case "--provider", "-p":
			if i+1 < len(raw) {
				args.Provider = raw[i+1]
				i++
			}
		case "--system":
			if i+1 < len(raw) {
				args.System = raw[i+1]
				i++
			}
		case "--no-search":
			args.NoSearch = true
		case "--verbose":
			args.Verbose = true
		case "--no-color":
			args.NoColor = true
		}
	}
}

// parseAuthArgs parses auth subcommand arguments.
func parseAuthArgs(raw []string, args *Args) {
	parser := NewArgParser(raw)
	args.Subcommand = parser.Subcommand()
	args.Positional = parser.PositionalFrom(1)
	args.JSON = args.JSON || parser.BoolFlag("json")
	args.Confirm = parser.BoolFlag("confirm")
	args.Encrypt = parser.BoolFlag("encrypt")
	args.Index = parser.FlagIntOrDefault("index", -1)
}

// parseConfigArgs parses config subcommand arguments.
// Values may contain spaces: "config set system_prompt You are terse".
func parseConfigArgs(raw []string, args *Args) {
	parser := NewArgParser(raw)
	args.Subcommand = parser.Subcommand()
	args.ConfigKey = parser.Positional(1)
	args.ConfigValue = JoinPositionalArgs(parser, 2)
	args.JSON = args.JSON || parser.BoolFlag("json")
}

// parseHistoryArgs parses history subcommand arguments.
func parseHistoryArgs(raw []string, args *Args) {
	parser := NewArgParser(raw)
	args.Subcommand = parser.Subcommand()
	args.Positional = parser.PositionalFrom(1)
	args.Format = parser.Flag("format")
	args.Output = parser.Flag("output")
	args.Limit = parser.FlagIntOrDefault("limit", 0)
	args.Confirm = parser.BoolFlag("confirm")
	args.JSON = args.JSON || parser.BoolFlag("json")
}

// parseBasicArgs parses commands that only take global flags.
func parseBasicArgs(raw []string, args *Args) {
	parser := NewArgParser(raw)
	args.JSON = args.JSON || parser.BoolFlag("json")
	args.Verbose = args.Verbose || parser.BoolFlag("verbose")
}

// =============================================================================
// VERSION AND HELP COMMANDS
// =============================================================================

// HandleVersionCommand prints build information.
func HandleVersionCommand(args *Args) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if args.JSON {
		return OutputJSON("version", data)
	}

	fmt.Printf("sidekick %s\n", TitleStyle.Render(data.Version))
	fmt.Printf("  %s %s\n", LabelStyle.Render("commit:"), data.GitCommit)
	fmt.Printf("  %s %s\n", LabelStyle.Render("built:"), data.BuildDate)
	fmt.Printf("  %s %s (%s)\n", LabelStyle.Render("runtime:"), data.GoVersion, data.Platform)
	return nil
}

// HandleHelpCommand prints usage.
func HandleHelpCommand(args *Args) error {
	if args.JSON {
		return OutputJSON("help", map[string]string{"usage": usageText})
	}
	PrintUsage()
	return nil
}
