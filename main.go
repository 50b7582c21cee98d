// sidekick - LLM assistant for your terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"github.com/jeranaias/sidekick/internal/cli"
	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/logging"
)

// Version information (set at build time via ldflags).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	command, args := cli.Parse()

	if args.NoColor {
		cli.ForceColorsEnabled(false)
	}

	initLogging(args)

	var err error
	switch command {
	case cli.CmdAsk:
		err = cli.HandleAskCommand(args)
	case cli.CmdChat:
		err = cli.HandleChatCommand(args)
	case cli.CmdAuth:
		err = cli.HandleAuthCommand(args)
	case cli.CmdConfig:
		err = cli.HandleConfigCommand(args)
	case cli.CmdHistory:
		err = cli.HandleHistoryCommand(args)
	case cli.CmdDoctor:
		err = cli.HandleDoctorCommand(args)
	case cli.CmdVersion:
		err = cli.HandleVersionCommand(args)
	default:
		err = cli.HandleHelpCommand(args)
	}

	cli.HandleErrorAndExit(err, args.JSON)
}

// initLogging installs the global logger before any command runs.
// --verbose forces debug regardless of the config file; config load
// errors are ignored here because command handlers report them with
// proper context.
func initLogging(args *cli.Args) {
	logCfg := logging.Config{Level: "info", Pretty: true}
	if cfg, err := config.Load(); err == nil {
		logCfg.Level = cfg.Logging.Level
		logCfg.Pretty = cfg.Logging.Pretty
		if cfg.Logging.File != "" {
			if w, err := logging.FileWriter(cfg.Logging.File); err == nil {
				logCfg.Output = w
				logCfg.Pretty = false
			}
		}
	}
	if args.Verbose {
		logCfg.Level = "debug"
	} else if args.Quiet {
		logCfg.Level = "error"
	}
	logging.Init(logCfg)
}
