// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/jeranaias/sidekick/internal/keyring"
	"github.com/jeranaias/sidekick/internal/model"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sidekick configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// DefaultProvider selects the chat backend: a built-in id (openai,
	// gemini, anthropic, perplexity) or the id of a custom provider.
	DefaultProvider string `toml:"default_provider" json:"default_provider" envconfig:"provider"`

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt" envconfig:"system_prompt"`

	Providers ProvidersConfig  `toml:"providers" json:"providers" envconfig:"providers"`
	Custom    []CustomProvider `toml:"custom_providers" json:"custom_providers" ignored:"true"`
	WebSearch WebSearchConfig  `toml:"web_search" json:"web_search" envconfig:"web_search"`
	Storage   StorageConfig    `toml:"storage" json:"storage" envconfig:"storage"`
	History   HistoryConfig    `toml:"history" json:"history" envconfig:"history"`
	Logging   LoggingConfig    `toml:"logging" json:"logging" envconfig:"logging"`
	UI        UIConfig         `toml:"ui" json:"ui" envconfig:"ui"`
}

// ProvidersConfig groups the built-in provider settings.
type ProvidersConfig struct {
	OpenAI     ProviderSettings `toml:"openai" json:"openai" envconfig:"openai"`
	Gemini     ProviderSettings `toml:"gemini" json:"gemini" envconfig:"gemini"`
	Anthropic  ProviderSettings `toml:"anthropic" json:"anthropic" envconfig:"anthropic"`
	Perplexity ProviderSettings `toml:"perplexity" json:"perplexity" envconfig:"perplexity"`
}

// ProviderSettings configures one chat backend. APIKeys is a pool; the
// rotator picks among keys not currently quota-exhausted. Values may be
// stored with the ENC: prefix (see keyring).
type ProviderSettings struct {
	APIKeys []string `toml:"api_keys" json:"api_keys" envconfig:"api_keys"`
	BaseURL string   `toml:"base_url" json:"base_url" envconfig:"base_url"`
	Model   string   `toml:"model" json:"model" envconfig:"model"`
}

// CustomProvider registers an extra OpenAI-compatible endpoint under a
// user-chosen id.
type CustomProvider struct {
	ID      string   `toml:"id" json:"id"`
	Name    string   `toml:"name" json:"name"`
	APIKeys []string `toml:"api_keys" json:"api_keys"`
	BaseURL string   `toml:"base_url" json:"base_url"`
	Model   string   `toml:"model" json:"model"`
}

// WebSearchConfig configures the web-search executor.
type WebSearchConfig struct {
	// Enabled gates the search tool globally; native provider search is
	// unaffected.
	Enabled bool `toml:"enabled" json:"enabled" envconfig:"enabled"`

	// Backend selects the search implementation: perplexity, kagi, or
	// google. Empty picks the first backend with a usable credential.
	Backend string `toml:"backend" json:"backend" envconfig:"backend"`

	// PerplexityModel is the search-oriented model for the Perplexity
	// backend.
	PerplexityModel string `toml:"perplexity_model" json:"perplexity_model" envconfig:"perplexity_model"`

	// KagiSession is the kagi.com session cookie value. May be ENC:
	// encrypted.
	KagiSession string `toml:"kagi_session" json:"kagi_session" envconfig:"kagi_session"`

	// RatePerSecond and RateBurst bound concurrent search fan-out.
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second" envconfig:"rate_per_second"`
	RateBurst     int     `toml:"rate_burst" json:"rate_burst" envconfig:"rate_burst"`
}

// StorageConfig selects the key-value store backend used for
// exhausted-key bookkeeping.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend" json:"backend" envconfig:"backend"`
}

// HistoryConfig configures the conversation archive.
type HistoryConfig struct {
	Enabled          bool `toml:"enabled" json:"enabled" envconfig:"enabled"`
	MaxConversations int  `toml:"max_conversations" json:"max_conversations" envconfig:"max_conversations"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `toml:"level" json:"level" envconfig:"level"`

	// Pretty switches to the human-readable console writer.
	Pretty bool `toml:"pretty" json:"pretty" envconfig:"pretty"`

	// File appends JSON logs to the given path instead of stderr.
	File string `toml:"file" json:"file" envconfig:"file"`
}

// UIConfig configures terminal output.
type UIConfig struct {
	// Markdown renders answers through glamour when stdout is a TTY.
	Markdown bool `toml:"markdown" json:"markdown" envconfig:"markdown"`

	// Theme is the glamour style: dark, light, or auto.
	Theme string `toml:"theme" json:"theme" envconfig:"theme"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:         "1.0.0",
		DefaultProvider: model.ProviderOpenAI,
		SystemPrompt:    "",

		Providers: ProvidersConfig{
			OpenAI:     ProviderSettings{Model: model.DefaultModel(model.ProviderOpenAI)},
			Gemini:     ProviderSettings{Model: model.DefaultModel(model.ProviderGemini)},
			Anthropic:  ProviderSettings{Model: model.DefaultModel(model.ProviderAnthropic)},
			Perplexity: ProviderSettings{Model: model.DefaultModel(model.ProviderPerplexity)},
		},

		WebSearch: WebSearchConfig{
			Enabled:         true,
			Backend:         "",
			PerplexityModel: "sonar",
			RatePerSecond:   2,
			RateBurst:       4,
		},

		Storage: StorageConfig{
			Backend: "file",
		},

		History: HistoryConfig{
			Enabled:          true,
			MaxConversations: 200,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},

		UI: UIConfig{
			Markdown: true,
			Theme:    "auto",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the sidekick configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sidekick"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) because
// they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the standard location, layering the
// config file, .env, and SIDEKICK_* environment overrides on top of
// defaults. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	// .env feeds the environment before overrides are read. A missing
	// file is the normal case.
	_ = godotenv.Load()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.decryptSecrets()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the standard location.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration as TOML.
// SECURITY: Creates config files with 0600 permissions (owner
// read/write only).
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# sidekick configuration file")
	fmt.Fprintln(file, "# Generated by sidekick - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies SIDEKICK_* environment variables on top of
// the loaded values. Key pools are comma-separated
// (SIDEKICK_PROVIDERS_OPENAI_API_KEYS="sk-a,sk-b").
func (c *Config) ApplyEnvOverrides() error {
	if err := envconfig.Process("sidekick", c); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	// SIDEKICK_MODEL is shorthand for the active provider's model.
	if m := os.Getenv("SIDEKICK_MODEL"); m != "" {
		if custom, ok := c.CustomByID(c.DefaultProvider); ok {
			custom.Model = m
		} else if s := c.settingsFor(c.DefaultProvider); s != nil {
			s.Model = m
		}
	}
	return nil
}

// decryptSecrets decrypts ENC:-prefixed API keys and session cookies in
// place when SIDEKICK_PASSPHRASE is set. Failures leave the stored value
// untouched; the resulting auth error surfaces at request time.
func (c *Config) decryptSecrets() {
	crypt, ok := keyring.CryptFromEnv()
	if !ok {
		return
	}

	decrypt := func(v string) string {
		if !keyring.IsEncrypted(v) {
			return v
		}
		plain, err := crypt.DecryptString(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not decrypt stored credential: %v\n", err)
			return v
		}
		return plain
	}

	for _, s := range c.allSettings() {
		for i, key := range s.APIKeys {
			s.APIKeys[i] = decrypt(key)
		}
	}
	for i := range c.Custom {
		for j, key := range c.Custom[i].APIKeys {
			c.Custom[i].APIKeys[j] = decrypt(key)
		}
	}
	c.WebSearch.KagiSession = decrypt(c.WebSearch.KagiSession)
}

// SetDefaults fills empty fields with usable values after a partial
// file or override wiped them.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = model.ProviderOpenAI
	}
	if c.Providers.OpenAI.Model == "" {
		c.Providers.OpenAI.Model = model.DefaultModel(model.ProviderOpenAI)
	}
	if c.Providers.Gemini.Model == "" {
		c.Providers.Gemini.Model = model.DefaultModel(model.ProviderGemini)
	}
	if c.Providers.Anthropic.Model == "" {
		c.Providers.Anthropic.Model = model.DefaultModel(model.ProviderAnthropic)
	}
	if c.Providers.Perplexity.Model == "" {
		c.Providers.Perplexity.Model = model.DefaultModel(model.ProviderPerplexity)
	}
	if c.WebSearch.PerplexityModel == "" {
		c.WebSearch.PerplexityModel = "sonar"
	}
	if c.WebSearch.RatePerSecond <= 0 {
		c.WebSearch.RatePerSecond = 2
	}
	if c.WebSearch.RateBurst <= 0 {
		c.WebSearch.RateBurst = 4
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.History.MaxConversations <= 0 {
		c.History.MaxConversations = 200
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.UI.Theme == "" {
		c.UI.Theme = "auto"
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if !model.IsBuiltinProvider(c.DefaultProvider) {
		if _, ok := c.CustomByID(c.DefaultProvider); !ok {
			errs = append(errs, ValidationError{
				Field:   "default_provider",
				Message: fmt.Sprintf("unknown provider %q", c.DefaultProvider),
			})
		}
	}

	switch c.WebSearch.Backend {
	case "", "perplexity", "kagi", "google":
	default:
		errs = append(errs, ValidationError{
			Field:   "web_search.backend",
			Message: fmt.Sprintf("must be perplexity, kagi, or google, got %q", c.WebSearch.Backend),
		})
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("must be file or sqlite, got %q", c.Storage.Backend),
		})
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}

	seen := make(map[string]bool)
	for i, custom := range c.Custom {
		field := fmt.Sprintf("custom_providers[%d]", i)
		if custom.ID == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "required"})
		} else if model.IsBuiltinProvider(custom.ID) {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("%q shadows a built-in provider", custom.ID),
			})
		} else if seen[custom.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate id %q", custom.ID),
			})
		}
		seen[custom.ID] = true

		if custom.BaseURL == "" {
			errs = append(errs, ValidationError{Field: field + ".base_url", Message: "required"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// PROVIDER ACCESSORS
// =============================================================================

// settingsFor returns a mutable view of a built-in provider's settings,
// or nil for an unknown id. Custom providers go through CustomByID.
func (c *Config) settingsFor(id string) *ProviderSettings {
	switch id {
	case model.ProviderOpenAI:
		return &c.Providers.OpenAI
	case model.ProviderGemini:
		return &c.Providers.Gemini
	case model.ProviderAnthropic:
		return &c.Providers.Anthropic
	case model.ProviderPerplexity:
		return &c.Providers.Perplexity
	}
	return nil
}

// allSettings returns mutable views of the four built-in settings.
func (c *Config) allSettings() []*ProviderSettings {
	return []*ProviderSettings{
		&c.Providers.OpenAI,
		&c.Providers.Gemini,
		&c.Providers.Anthropic,
		&c.Providers.Perplexity,
	}
}

// CustomByID looks up a custom provider registration.
func (c *Config) CustomByID(id string) (*CustomProvider, bool) {
	for i := range c.Custom {
		if c.Custom[i].ID == id {
			return &c.Custom[i], true
		}
	}
	return nil, false
}

// IsCustom reports whether id names a registered custom provider.
func (c *Config) IsCustom(id string) bool {
	_, ok := c.CustomByID(id)
	return ok
}

// ProviderKeys returns the configured key pool for a provider id.
func (c *Config) ProviderKeys(id string) []string {
	if custom, ok := c.CustomByID(id); ok {
		return custom.APIKeys
	}
	if s := c.settingsFor(id); s != nil {
		return s.APIKeys
	}
	return nil
}

// ProviderBaseURL returns the configured base URL override for a
// provider id; empty means the adapter default.
func (c *Config) ProviderBaseURL(id string) string {
	if custom, ok := c.CustomByID(id); ok {
		return custom.BaseURL
	}
	if s := c.settingsFor(id); s != nil {
		return s.BaseURL
	}
	return ""
}

// ProviderModel returns the model id to use for a provider.
func (c *Config) ProviderModel(id string) string {
	if custom, ok := c.CustomByID(id); ok {
		return custom.Model
	}
	if s := c.settingsFor(id); s != nil && s.Model != "" {
		return s.Model
	}
	return model.DefaultModel(id)
}

// ActiveModel returns the model id for the default provider.
func (c *Config) ActiveModel() string {
	return c.ProviderModel(c.DefaultProvider)
}

// AddKey appends an API key to a provider's pool. Duplicate values are
// rejected.
func (c *Config) AddKey(provider, key string) error {
	if custom, ok := c.CustomByID(provider); ok {
		for _, k := range custom.APIKeys {
			if k == key {
				return fmt.Errorf("key already configured for %s", provider)
			}
		}
		custom.APIKeys = append(custom.APIKeys, key)
		return nil
	}

	s := c.settingsFor(provider)
	if s == nil {
		return fmt.Errorf("unknown provider: %s", provider)
	}
	for _, k := range s.APIKeys {
		if k == key {
			return fmt.Errorf("key already configured for %s", provider)
		}
	}
	s.APIKeys = append(s.APIKeys, key)
	return nil
}

// RemoveKey removes the key at the given index from a provider's pool.
func (c *Config) RemoveKey(provider string, index int) error {
	remove := func(keys []string) ([]string, error) {
		if index < 0 || index >= len(keys) {
			return nil, fmt.Errorf("key index %d out of range (have %d)", index, len(keys))
		}
		return append(keys[:index], keys[index+1:]...), nil
	}

	if custom, ok := c.CustomByID(provider); ok {
		keys, err := remove(custom.APIKeys)
		if err != nil {
			return err
		}
		custom.APIKeys = keys
		return nil
	}

	s := c.settingsFor(provider)
	if s == nil {
		return fmt.Errorf("unknown provider: %s", provider)
	}
	keys, err := remove(s.APIKeys)
	if err != nil {
		return err
	}
	s.APIKeys = keys
	return nil
}

// ProviderIDs returns every configured provider id: built-ins first,
// then custom registrations in file order.
func (c *Config) ProviderIDs() []string {
	ids := model.BuiltinProviders()
	for _, custom := range c.Custom {
		ids = append(ids, custom.ID)
	}
	return ids
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation
// (e.g. "web_search.backend").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation
// (e.g. "web_search.backend").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}
	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent. Field matching is case-insensitive, so collapsing
// the separators is enough.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion. String inputs convert to the field's kind so the config
// command can pass raw CLI arguments.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes")
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				items := strings.Split(strVal, ",")
				for i := range items {
					items[i] = strings.TrimSpace(items[i])
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"default_provider",
		"system_prompt",
		"providers.openai.api_keys",
		"providers.openai.base_url",
		"providers.openai.model",
		"providers.gemini.api_keys",
		"providers.gemini.base_url",
		"providers.gemini.model",
		"providers.anthropic.api_keys",
		"providers.anthropic.base_url",
		"providers.anthropic.model",
		"providers.perplexity.api_keys",
		"providers.perplexity.base_url",
		"providers.perplexity.model",
		"web_search.enabled",
		"web_search.backend",
		"web_search.perplexity_model",
		"web_search.kagi_session",
		"web_search.rate_per_second",
		"web_search.rate_burst",
		"storage.backend",
		"history.enabled",
		"history.max_conversations",
		"logging.level",
		"logging.pretty",
		"logging.file",
		"ui.markdown",
		"ui.theme",
	}
}

// =============================================================================
// COPY / DEBUG HELPERS
// =============================================================================

// Clone returns a deep copy, so callers can mutate safely.
func (c *Config) Clone() *Config {
	clone := *c

	cloneKeys := func(keys []string) []string {
		if keys == nil {
			return nil
		}
		out := make([]string, len(keys))
		copy(out, keys)
		return out
	}

	clone.Providers.OpenAI.APIKeys = cloneKeys(c.Providers.OpenAI.APIKeys)
	clone.Providers.Gemini.APIKeys = cloneKeys(c.Providers.Gemini.APIKeys)
	clone.Providers.Anthropic.APIKeys = cloneKeys(c.Providers.Anthropic.APIKeys)
	clone.Providers.Perplexity.APIKeys = cloneKeys(c.Providers.Perplexity.APIKeys)

	if c.Custom != nil {
		clone.Custom = make([]CustomProvider, len(c.Custom))
		copy(clone.Custom, c.Custom)
		for i := range clone.Custom {
			clone.Custom[i].APIKeys = cloneKeys(c.Custom[i].APIKeys)
		}
	}
	return &clone
}

// String returns a string representation for debugging.
// SECURITY: Redacts key material so config dumps are safe to log.
func (c *Config) String() string {
	safe := c.Clone()

	redact := func(keys []string) {
		for i, key := range keys {
			if key != "" {
				keys[i] = "[REDACTED:" + keyring.Fingerprint(key) + "]"
			}
		}
	}
	for _, s := range safe.allSettings() {
		redact(s.APIKeys)
	}
	for i := range safe.Custom {
		redact(safe.Custom[i].APIKeys)
	}
	if safe.WebSearch.KagiSession != "" {
		safe.WebSearch.KagiSession = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
