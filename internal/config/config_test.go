// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DefaultProvider != model.ProviderOpenAI {
		t.Errorf("DefaultProvider = %q, want %q", cfg.DefaultProvider, model.ProviderOpenAI)
	}
	if !cfg.WebSearch.Enabled {
		t.Error("WebSearch.Enabled should default to true")
	}
	if cfg.Providers.Gemini.Model == "" {
		t.Error("Gemini model should have a default")
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.DefaultProvider != model.ProviderOpenAI {
		t.Errorf("DefaultProvider = %q, want default", cfg.DefaultProvider)
	}
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `default_provider = "gemini"

[web_search]
backend = "kagi"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.DefaultProvider != "gemini" {
		t.Errorf("DefaultProvider = %q, want gemini", cfg.DefaultProvider)
	}
	if cfg.WebSearch.Backend != "kagi" {
		t.Errorf("WebSearch.Backend = %q, want kagi", cfg.WebSearch.Backend)
	}
	// Keys absent from the file keep their defaults.
	if !cfg.WebSearch.Enabled {
		t.Error("WebSearch.Enabled should stay true when the file omits it")
	}
	if cfg.Providers.OpenAI.Model == "" {
		t.Error("OpenAI model default should survive a partial file")
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	t.Setenv("SIDEKICK_PROVIDER", "anthropic")
	t.Setenv("SIDEKICK_PROVIDERS_OPENAI_API_KEYS", "sk-a,sk-b")
	t.Setenv("SIDEKICK_WEB_SEARCH_ENABLED", "false")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q, want anthropic", cfg.DefaultProvider)
	}
	if len(cfg.Providers.OpenAI.APIKeys) != 2 || cfg.Providers.OpenAI.APIKeys[1] != "sk-b" {
		t.Errorf("OpenAI.APIKeys = %v, want [sk-a sk-b]", cfg.Providers.OpenAI.APIKeys)
	}
	if cfg.WebSearch.Enabled {
		t.Error("WebSearch.Enabled should be overridden to false")
	}
}

func TestLoadFromPath_ModelShortcut(t *testing.T) {
	t.Setenv("SIDEKICK_PROVIDER", "gemini")
	t.Setenv("SIDEKICK_MODEL", "gemini-2.5-pro")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if got := cfg.ActiveModel(); got != "gemini-2.5-pro" {
		t.Errorf("ActiveModel() = %q, want gemini-2.5-pro", got)
	}
	// The shortcut must not leak into other providers.
	if cfg.Providers.OpenAI.Model == "gemini-2.5-pro" {
		t.Error("SIDEKICK_MODEL leaked into the openai settings")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultProvider = "perplexity"
	cfg.Providers.Perplexity.APIKeys = []string{"pplx-1"}
	cfg.Custom = []CustomProvider{{
		ID:      "local",
		Name:    "Local llama",
		BaseURL: "http://localhost:8080/v1",
		Model:   "llama-3.1-8b",
	}}
	cfg.WebSearch.Backend = "perplexity"

	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("config file mode = %o, want 0600", mode)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if loaded.DefaultProvider != "perplexity" {
		t.Errorf("DefaultProvider = %q, want perplexity", loaded.DefaultProvider)
	}
	if len(loaded.Providers.Perplexity.APIKeys) != 1 {
		t.Errorf("Perplexity.APIKeys = %v, want one key", loaded.Providers.Perplexity.APIKeys)
	}
	if len(loaded.Custom) != 1 || loaded.Custom[0].ID != "local" {
		t.Errorf("Custom = %+v, want the local provider back", loaded.Custom)
	}
	if loaded.Custom[0].BaseURL != "http://localhost:8080/v1" {
		t.Errorf("Custom[0].BaseURL = %q", loaded.Custom[0].BaseURL)
	}
}

func TestLoadFromPath_FixesInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`default_provider = "openai"`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("mode after load = %o, want 0600", mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "unknown provider",
			mutate:    func(c *Config) { c.DefaultProvider = "nope" },
			wantField: "default_provider",
		},
		{
			name:      "bad search backend",
			mutate:    func(c *Config) { c.WebSearch.Backend = "bing" },
			wantField: "web_search.backend",
		},
		{
			name:      "bad storage backend",
			mutate:    func(c *Config) { c.Storage.Backend = "redis" },
			wantField: "storage.backend",
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
		{
			name: "custom missing base url",
			mutate: func(c *Config) {
				c.Custom = []CustomProvider{{ID: "local"}}
			},
			wantField: "custom_providers[0].base_url",
		},
		{
			name: "custom shadows builtin",
			mutate: func(c *Config) {
				c.Custom = []CustomProvider{{ID: "openai", BaseURL: "http://x"}}
			},
			wantField: "custom_providers[0].id",
		},
		{
			name: "duplicate custom id",
			mutate: func(c *Config) {
				c.Custom = []CustomProvider{
					{ID: "local", BaseURL: "http://a"},
					{ID: "local", BaseURL: "http://b"},
				}
			},
			wantField: "custom_providers[1].id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}

			verrs, ok := err.(ValidateErrors)
			if !ok {
				t.Fatalf("error type = %T, want ValidateErrors", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %q in %v", tt.wantField, verrs)
			}
		})
	}
}

func TestValidate_CustomProviderAsDefault(t *testing.T) {
	cfg := Default()
	cfg.Custom = []CustomProvider{{ID: "local", BaseURL: "http://localhost:8080/v1"}}
	cfg.DefaultProvider = "local"

	if err := cfg.Validate(); err != nil {
		t.Errorf("custom default provider should validate: %v", err)
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("web_search.backend", "kagi"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := cfg.Get("web_search.backend")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "kagi" {
		t.Errorf("Get() = %v, want kagi", got)
	}

	// String inputs convert to the field's type.
	if err := cfg.Set("web_search.rate_burst", "8"); err != nil {
		t.Fatalf("Set(int from string) error = %v", err)
	}
	if cfg.WebSearch.RateBurst != 8 {
		t.Errorf("RateBurst = %d, want 8", cfg.WebSearch.RateBurst)
	}

	if err := cfg.Set("ui.markdown", "false"); err != nil {
		t.Fatalf("Set(bool from string) error = %v", err)
	}
	if cfg.UI.Markdown {
		t.Error("UI.Markdown should be false")
	}

	if err := cfg.Set("providers.openai.api_keys", "sk-a, sk-b"); err != nil {
		t.Fatalf("Set(slice from string) error = %v", err)
	}
	if len(cfg.Providers.OpenAI.APIKeys) != 2 || cfg.Providers.OpenAI.APIKeys[1] != "sk-b" {
		t.Errorf("APIKeys = %v, want [sk-a sk-b]", cfg.Providers.OpenAI.APIKeys)
	}

	if _, err := cfg.Get("no.such.key"); err == nil {
		t.Error("Get(unknown) should fail")
	}
	if err := cfg.Set("web_search", "x"); err == nil {
		t.Error("Set on a struct field should fail")
	}
}

func TestGetAllKeys_AllResolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

func TestDecryptSecrets(t *testing.T) {
	t.Setenv(keyring.PassphraseEnv, "correct horse battery staple")

	crypt := keyring.NewCrypt("correct horse battery staple")
	enc, err := crypt.EncryptString("sk-secret")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Providers.OpenAI.APIKeys = []string{enc}
	cfg.WebSearch.KagiSession = enc
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if got := loaded.Providers.OpenAI.APIKeys[0]; got != "sk-secret" {
		t.Errorf("decrypted key = %q, want sk-secret", got)
	}
	if loaded.WebSearch.KagiSession != "sk-secret" {
		t.Errorf("KagiSession = %q, want decrypted", loaded.WebSearch.KagiSession)
	}
}

func TestDecryptSecrets_WrongPassphraseKeepsStored(t *testing.T) {
	crypt := keyring.NewCrypt("right")
	enc, err := crypt.EncryptString("sk-secret")
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv(keyring.PassphraseEnv, "wrong")

	cfg := Default()
	cfg.Providers.OpenAI.APIKeys = []string{enc}
	cfg.decryptSecrets()

	if got := cfg.Providers.OpenAI.APIKeys[0]; got != enc {
		t.Errorf("failed decryption should keep the stored value, got %q", got)
	}
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKeys = []string{"sk-a"}
	cfg.Custom = []CustomProvider{{ID: "local", BaseURL: "http://x", APIKeys: []string{"k"}}}

	clone := cfg.Clone()
	clone.Providers.OpenAI.APIKeys[0] = "changed"
	clone.Custom[0].APIKeys[0] = "changed"

	if cfg.Providers.OpenAI.APIKeys[0] != "sk-a" {
		t.Error("clone shares the openai key slice")
	}
	if cfg.Custom[0].APIKeys[0] != "k" {
		t.Error("clone shares the custom key slice")
	}
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKeys = []string{"sk-supersecret"}
	cfg.WebSearch.KagiSession = "session-cookie-value"

	s := cfg.String()
	if strings.Contains(s, "sk-supersecret") {
		t.Error("String() leaks an API key")
	}
	if strings.Contains(s, "session-cookie-value") {
		t.Error("String() leaks the kagi session")
	}
	if !strings.Contains(s, "REDACTED") {
		t.Error("String() should mark redacted values")
	}
}

func TestAddRemoveKey(t *testing.T) {
	cfg := Default()

	if err := cfg.AddKey("openai", "sk-a"); err != nil {
		t.Fatalf("AddKey() error = %v", err)
	}
	if err := cfg.AddKey("openai", "sk-a"); err == nil {
		t.Error("duplicate AddKey should fail")
	}
	if err := cfg.AddKey("unknown", "k"); err == nil {
		t.Error("AddKey to unknown provider should fail")
	}

	if err := cfg.RemoveKey("openai", 5); err == nil {
		t.Error("RemoveKey out of range should fail")
	}
	if err := cfg.RemoveKey("openai", 0); err != nil {
		t.Fatalf("RemoveKey() error = %v", err)
	}
	if len(cfg.Providers.OpenAI.APIKeys) != 0 {
		t.Errorf("APIKeys = %v, want empty", cfg.Providers.OpenAI.APIKeys)
	}

	cfg.Custom = []CustomProvider{{ID: "local", BaseURL: "http://x"}}
	if err := cfg.AddKey("local", "k1"); err != nil {
		t.Fatalf("AddKey(custom) error = %v", err)
	}
	if got := cfg.ProviderKeys("local"); len(got) != 1 || got[0] != "k1" {
		t.Errorf("ProviderKeys(local) = %v, want [k1]", got)
	}
}

func TestProviderAccessors(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.BaseURL = "https://proxy.example.com"
	cfg.Custom = []CustomProvider{{
		ID:      "local",
		BaseURL: "http://localhost:8080/v1",
		Model:   "llama-3.1-8b",
		APIKeys: []string{"k"},
	}}

	if got := cfg.ProviderBaseURL("anthropic"); got != "https://proxy.example.com" {
		t.Errorf("ProviderBaseURL(anthropic) = %q", got)
	}
	if got := cfg.ProviderBaseURL("openai"); got != "" {
		t.Errorf("ProviderBaseURL(openai) = %q, want empty", got)
	}
	if got := cfg.ProviderModel("local"); got != "llama-3.1-8b" {
		t.Errorf("ProviderModel(local) = %q", got)
	}
	if got := cfg.ProviderModel("gemini"); got != model.DefaultModel("gemini") {
		t.Errorf("ProviderModel(gemini) = %q", got)
	}
	if !cfg.IsCustom("local") || cfg.IsCustom("openai") {
		t.Error("IsCustom misclassifies providers")
	}

	ids := cfg.ProviderIDs()
	if len(ids) != 5 || ids[len(ids)-1] != "local" {
		t.Errorf("ProviderIDs() = %v", ids)
	}
}
