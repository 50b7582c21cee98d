// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Environment and credential diagnostics
//
// CLI: "sidekick doctor" runs read-only checks against the config file,
// key pools, quota bookkeeping and search credentials, and suggests a
// fix for everything it flags. It never prints key material.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/storage"
	"github.com/jeranaias/sidekick/internal/websearch"
)

// Check statuses, mirrored into DoctorCheck.Status.
const (
	checkPass = "pass"
	checkWarn = "warn"
	checkFail = "fail"
)

// HandleDoctorCommand runs all diagnostics and prints a report.
func HandleDoctorCommand(args *Args) error {
	var checks []DoctorCheck

	cfg, checks := checkConfig(checks)
	if cfg != nil {
		checks = checkProviders(cfg, checks)
		checks = checkEncryption(cfg, checks)
		checks = checkStateStore(cfg, checks)
		checks = checkWebSearch(cfg, checks)
		checks = checkHistory(cfg, checks)
	}

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case checkPass:
			summary.Passed++
		case checkWarn:
			summary.Warned++
		case checkFail:
			summary.Failed++
		}
	}
	summary.Healthy = summary.Failed == 0

	if args.JSON {
		return OutputJSON("doctor", DoctorData{Checks: checks, Summary: summary})
	}

	fmt.Println(TitleStyle.Render("sidekick doctor"))
	for _, c := range checks {
		var marker string
		switch c.Status {
		case checkPass:
			marker = SuccessStyle.Render("ok  ")
		case checkWarn:
			marker = WarningStyle.Render("warn")
		default:
			marker = ErrorStyle.Render("fail")
		}
		fmt.Printf("  %s %-22s %s\n", marker, c.Name, c.Message)
		if c.Fix != "" && c.Status != checkPass {
			fmt.Printf("       %s %s\n", DimStyle.Render("fix:"), c.Fix)
		}
	}

	fmt.Println()
	line := fmt.Sprintf("%d passed, %d warnings, %d failed", summary.Passed, summary.Warned, summary.Failed)
	if summary.Healthy {
		fmt.Println(SuccessStyle.Render(line))
	} else {
		fmt.Println(ErrorStyle.Render(line))
	}

	if !summary.Healthy {
		return NewCommandError("doctor", "check", "environment has failing checks", nil)
	}
	return nil
}

// =============================================================================
// INDIVIDUAL CHECKS
// =============================================================================

// checkConfig verifies the config file exists, parses, validates and has
// safe permissions. Returns nil config when loading failed; dependent
// checks are skipped in that case.
func checkConfig(checks []DoctorCheck) (*config.Config, []DoctorCheck) {
	path, err := config.ConfigPath()
	if err != nil {
		return nil, append(checks, DoctorCheck{
			Name:    "config file",
			Status:  checkFail,
			Message: err.Error(),
		})
	}

	info, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		checks = append(checks, DoctorCheck{
			Name:    "config file",
			Status:  checkWarn,
			Message: "not found, using defaults",
			Fix:     "sidekick config set default_provider openai",
		})
	} else if statErr == nil {
		checks = append(checks, DoctorCheck{
			Name:    "config file",
			Status:  checkPass,
			Message: path,
		})
		if info.Mode().Perm()&0077 != 0 {
			checks = append(checks, DoctorCheck{
				Name:    "config permissions",
				Status:  checkWarn,
				Message: fmt.Sprintf("mode %04o is group/world readable", info.Mode().Perm()),
				Fix:     "chmod 600 " + path,
			})
		} else {
			checks = append(checks, DoctorCheck{
				Name:    "config permissions",
				Status:  checkPass,
				Message: fmt.Sprintf("mode %04o", info.Mode().Perm()),
			})
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, append(checks, DoctorCheck{
			Name:    "config parse",
			Status:  checkFail,
			Message: err.Error(),
			Fix:     "fix or remove " + path,
		})
	}

	if err := cfg.Validate(); err != nil {
		checks = append(checks, DoctorCheck{
			Name:    "config validity",
			Status:  checkFail,
			Message: err.Error(),
		})
	} else {
		checks = append(checks, DoctorCheck{
			Name:    "config validity",
			Status:  checkPass,
			Message: "valid",
		})
	}

	return cfg, checks
}

// checkProviders verifies the active provider has at least one key and
// reports quota state for every configured pool.
func checkProviders(cfg *config.Config, checks []DoctorCheck) []DoctorCheck {
	active := cfg.DefaultProvider
	keys := cfg.ProviderKeys(active)

	switch {
	case len(keys) == 0 && !model.IsBuiltinProvider(active) && !cfg.IsCustom(active):
		checks = append(checks, DoctorCheck{
			Name:    "active provider",
			Status:  checkFail,
			Message: fmt.Sprintf("%q is not a known provider", active),
			Fix:     "sidekick config set default_provider openai",
		})
	case len(keys) == 0:
		checks = append(checks, DoctorCheck{
			Name:    "active provider",
			Status:  checkFail,
			Message: fmt.Sprintf("%s has no API keys", active),
			Fix:     "sidekick auth set " + active,
		})
	default:
		checks = append(checks, DoctorCheck{
			Name:   "active provider",
			Status: checkPass,
			Message: fmt.Sprintf("%s/%s, %d %s", active, cfg.ActiveModel(),
				len(keys), pluralize("key", len(keys))),
		})
	}

	configured := 0
	for _, id := range cfg.ProviderIDs() {
		if len(cfg.ProviderKeys(id)) > 0 {
			configured++
		}
	}
	if configured == 0 {
		checks = append(checks, DoctorCheck{
			Name:    "provider keys",
			Status:  checkFail,
			Message: "no provider has any API key",
			Fix:     "sidekick auth set <provider>",
		})
	} else {
		checks = append(checks, DoctorCheck{
			Name:    "provider keys",
			Status:  checkPass,
			Message: fmt.Sprintf("%d %s with keys", configured, pluralize("provider", configured)),
		})
	}

	return checks
}

// checkEncryption flags ENC: values that cannot be decrypted because no
// passphrase is set.
func checkEncryption(cfg *config.Config, checks []DoctorCheck) []DoctorCheck {
	encrypted := 0
	for _, id := range cfg.ProviderIDs() {
		for _, k := range cfg.ProviderKeys(id) {
			if keyring.IsEncrypted(k) {
				encrypted++
			}
		}
	}
	if keyring.IsEncrypted(cfg.WebSearch.KagiSession) {
		encrypted++
	}

	_, passphraseSet := keyring.CryptFromEnv()

	switch {
	case encrypted > 0:
		// Load decrypts in place when the passphrase is set, so an ENC:
		// value surviving to this point means decryption was impossible.
		checks = append(checks, DoctorCheck{
			Name:    "key encryption",
			Status:  checkFail,
			Message: fmt.Sprintf("%d encrypted %s cannot be decrypted", encrypted, pluralize("value", encrypted)),
			Fix:     "export " + keyring.PassphraseEnv + "='...' with the original passphrase",
		})
	case passphraseSet:
		checks = append(checks, DoctorCheck{
			Name:    "key encryption",
			Status:  checkPass,
			Message: "passphrase set",
		})
	default:
		checks = append(checks, DoctorCheck{
			Name:    "key encryption",
			Status:  checkPass,
			Message: "not in use",
		})
	}
	return checks
}

// checkStateStore opens the exhausted-key store and reports quota
// bookkeeping for providers with exhausted keys this month.
func checkStateStore(cfg *config.Config, checks []DoctorCheck) []DoctorCheck {
	dir, err := config.ConfigDir()
	if err != nil {
		return append(checks, DoctorCheck{
			Name:    "state store",
			Status:  checkFail,
			Message: err.Error(),
		})
	}
	kv, err := storage.OpenKV(cfg.Storage.Backend, dir)
	if err != nil {
		return append(checks, DoctorCheck{
			Name:    "state store",
			Status:  checkFail,
			Message: fmt.Sprintf("%s backend: %v", cfg.Storage.Backend, err),
			Fix:     "sidekick config set storage.backend file",
		})
	}
	if closer, ok := kv.(io.Closer); ok {
		defer closer.Close()
	}
	checks = append(checks, DoctorCheck{
		Name:    "state store",
		Status:  checkPass,
		Message: cfg.Storage.Backend + " backend",
	})

	rotator := keyring.NewRotator(kv)
	ctx := context.Background()
	for _, id := range cfg.ProviderIDs() {
		total := len(cfg.ProviderKeys(id))
		if total == 0 {
			continue
		}
		exhausted := len(rotator.Exhausted(ctx, id))
		if exhausted == 0 {
			continue
		}
		status := checkWarn
		msg := fmt.Sprintf("%s: %d of %d %s exhausted this month", id, exhausted, total, pluralize("key", total))
		if exhausted >= total {
			msg += " (optimistic retry in effect)"
		}
		checks = append(checks, DoctorCheck{
			Name:    "quota",
			Status:  status,
			Message: msg,
			Fix:     "sidekick auth set " + id + "  # add another key",
		})
	}
	return checks
}

// checkWebSearch reports which search path a turn would take.
func checkWebSearch(cfg *config.Config, checks []DoctorCheck) []DoctorCheck {
	if !cfg.WebSearch.Enabled {
		return append(checks, DoctorCheck{
			Name:    "web search",
			Status:  checkPass,
			Message: "disabled",
		})
	}

	if !websearch.ShouldEnable(cfg, cfg.DefaultProvider, cfg.ActiveModel()) {
		if cfg.DefaultProvider == model.ProviderPerplexity {
			return append(checks, DoctorCheck{
				Name:    "web search",
				Status:  checkPass,
				Message: "native (perplexity searches on every completion)",
			})
		}
		return append(checks, DoctorCheck{
			Name:    "web search",
			Status:  checkWarn,
			Message: "enabled but no backend credential is configured",
			Fix:     "sidekick auth set perplexity, or set web_search.kagi_session",
		})
	}

	if websearch.NativeSearch(cfg, cfg.DefaultProvider, cfg.ActiveModel()) {
		return append(checks, DoctorCheck{
			Name:    "web search",
			Status:  checkPass,
			Message: "native provider grounding",
		})
	}

	backend := websearch.NewExecutor(cfg).Backend()
	return append(checks, DoctorCheck{
		Name:    "web search",
		Status:  checkPass,
		Message: backend + " backend",
	})
}

// checkHistory verifies the archive directory is writable.
func checkHistory(cfg *config.Config, checks []DoctorCheck) []DoctorCheck {
	if !cfg.History.Enabled {
		return append(checks, DoctorCheck{
			Name:    "history",
			Status:  checkPass,
			Message: "disabled",
		})
	}

	store, err := storage.NewConversationStore()
	if err != nil {
		return append(checks, DoctorCheck{
			Name:    "history",
			Status:  checkWarn,
			Message: fmt.Sprintf("archive unavailable: %v", err),
			Fix:     "sidekick config set history.enabled false",
		})
	}

	probe, err := os.CreateTemp(store.BaseDir, ".doctor-*")
	if err != nil {
		return append(checks, DoctorCheck{
			Name:    "history",
			Status:  checkWarn,
			Message: fmt.Sprintf("archive directory not writable: %v", err),
		})
	}
	probe.Close()
	os.Remove(probe.Name())

	metas, _ := store.List()
	return append(checks, DoctorCheck{
		Name:    "history",
		Status:  checkPass,
		Message: fmt.Sprintf("%d %s archived", len(metas), pluralize("conversation", len(metas))),
	})
}
