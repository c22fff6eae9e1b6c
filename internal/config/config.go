// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollachat/internal/util"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = "1"

// Defaults.
const (
	DefaultOllamaURL    = "http://127.0.0.1:11434"
	DefaultSystemPrompt = "You are a helpful AI assistant."
	DefaultTemperature  = 0.7
	DefaultNumCtx       = 4096
	DefaultTheme        = "light"
	DefaultRenderStyle  = "markdown"
	DefaultLogLevel     = "warn"
	DefaultTimeoutSecs  = 120
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ollachat configuration.
type Config struct {
	// Version is the config schema version
	Version string `toml:"version" json:"version" yaml:"version"`

	// LogLevel is one of trace, debug, info, warn, error
	LogLevel string `toml:"log_level" json:"log_level" yaml:"log_level"`

	Ollama  OllamaConfig  `toml:"ollama" json:"ollama" yaml:"ollama"`
	Chat    ChatConfig    `toml:"chat" json:"chat" yaml:"chat"`
	UI      UIConfig      `toml:"ui" json:"ui" yaml:"ui"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// source is the file this config was read from, if any.
	source string
}

// OllamaConfig contains the model server settings.
type OllamaConfig struct {
	// URL is the Ollama server base URL
	URL string `toml:"url" json:"url" yaml:"url"`
	// Model is the model to chat with. Empty means pick one on first use.
	Model string `toml:"model" json:"model" yaml:"model"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
}

// ChatConfig contains generation settings.
type ChatConfig struct {
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt" yaml:"system_prompt"`
	Temperature  float64 `toml:"temperature" json:"temperature" yaml:"temperature"`
	NumCtx       int     `toml:"num_ctx" json:"num_ctx" yaml:"num_ctx"`
	Stream       bool    `toml:"stream" json:"stream" yaml:"stream"`
}

// UIConfig contains terminal display settings.
type UIConfig struct {
	// Theme is "light", "dark" or "auto"
	Theme string `toml:"theme" json:"theme" yaml:"theme"`
	// RenderStyle is "markdown", "code" or "plain"
	RenderStyle string `toml:"render_style" json:"render_style" yaml:"render_style"`
	// ShowStats prints generation statistics after each reply
	ShowStats bool `toml:"show_stats" json:"show_stats" yaml:"show_stats"`
}

// StorageConfig contains conversation history settings.
type StorageConfig struct {
	// AutoSave stores the conversation after every reply
	AutoSave bool `toml:"auto_save" json:"auto_save" yaml:"auto_save"`
	// Path is the SQLite database file. Empty means ~/.ollachat/history.db.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Version:  CurrentVersion,
		LogLevel: DefaultLogLevel,
		Ollama: OllamaConfig{
			URL:         DefaultOllamaURL,
			TimeoutSecs: DefaultTimeoutSecs,
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
			Temperature:  DefaultTemperature,
			NumCtx:       DefaultNumCtx,
			Stream:       true,
		},
		UI: UIConfig{
			Theme:       DefaultTheme,
			RenderStyle: DefaultRenderStyle,
			ShowStats:   true,
		},
		Storage: StorageConfig{
			AutoSave: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ollachat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ollachat"), nil
}

func configFile(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) { return configFile("config.toml") }

// ConfigPathYAML returns the path to the YAML config file.
func ConfigPathYAML() (string, error) { return configFile("config.yaml") }

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) { return configFile("config.json") }

// HistoryDBPath returns the default conversation database path.
func HistoryDBPath() (string, error) { return configFile("history.db") }

// InputHistoryPath returns the line-editor history file path.
func InputHistoryPath() (string, error) { return configFile("chat_history") }

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// Source returns the file the config was loaded from, or "".
func (c *Config) Source() string {
	return c.source
}

// DBPath returns the configured history database path.
func (c *Config) DBPath() (string, error) {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	return HistoryDBPath()
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory.
// Tries TOML, then YAML, then JSON, and falls back to defaults.
// .env files and environment overrides are applied last.
func Load() (*Config, error) {
	LoadDotEnv()

	if path, ok := FindConfigFile(); ok {
		return LoadFromPath(path)
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile returns the config file Load would read. When none exists
// it returns the TOML path and false.
func FindConfigFile() (string, bool) {
	candidates := []func() (string, error){ConfigPathTOML, ConfigPathYAML, ConfigPathJSON}
	for _, pathFn := range candidates {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return path, true
		}
	}
	path, _ := ConfigPathTOML()
	return path, false
}

// LoadForEdit reads path onto the defaults without .env or environment
// overrides, for commands that write the file back. A missing file yields
// the defaults bound to path.
func LoadForEdit(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	cfg.source = path
	cfg.Migrate()
	cfg.SetDefaults()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full
// validation. The format follows the extension; anything unknown is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if err := decodeFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	cfg.source = path

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies environment overrides, migration, defaults and
// validation.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.Migrate()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// decodeFile reads path onto cfg. Keys absent from the file keep the
// values already in cfg.
func decodeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch formatOf(path) {
	case formatJSON:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode JSON file: %w", err)
		}
	case formatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML file: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to decode TOML file: %w", err)
		}
	}
	return nil
}

// LoadDotEnv loads .env from the working directory and then from the
// config directory. Variables already set in the environment win.
func LoadDotEnv() {
	var files []string
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if path, err := configFile(".env"); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			files = append(files, path)
		}
	}
	if len(files) > 0 {
		_ = godotenv.Load(files...)
	}
}

type format int

const (
	formatTOML format = iota
	formatYAML
	formatJSON
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatTOML
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration back to the file it came from, or to the
// default TOML file.
func Save(cfg *Config) error {
	path := cfg.source
	if path == "" {
		p, err := ConfigPathTOML()
		if err != nil {
			return err
		}
		path = p
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to path in the format its extension
// names. The file is replaced atomically and is readable only by its owner.
func SaveTo(cfg *Config, path string) error {
	data, err := encode(cfg, formatOf(path))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// encode serialises cfg in the given format.
func encode(cfg *Config, f format) ([]byte, error) {
	var buf bytes.Buffer

	switch f {
	case formatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	case formatYAML:
		buf.WriteString("# ollachat configuration file\n\n")
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		buf.WriteString("# ollachat configuration file\n")
		buf.WriteString("# Generated by ollachat - edit with care\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// SaveModel records the model picked when none was configured. Only the
// model is changed in the file; environment overrides are not written.
func (c *Config) SaveModel(name string) error {
	c.Ollama.Model = name

	path := c.source
	if path == "" {
		p, err := ConfigPathTOML()
		if err != nil {
			return err
		}
		path = p
	}

	onDisk := Default()
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(onDisk, path); err != nil {
			return err
		}
	}
	onDisk.Ollama.Model = name
	if err := SaveTo(onDisk, path); err != nil {
		return err
	}
	c.source = path
	return nil
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

// Ranges accepted for generation settings.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MaxNumCtx      = 1 << 20
)

var (
	validThemes       = []string{"light", "dark", "auto"}
	validRenderStyles = []string{"markdown", "code", "plain"}
	validLogLevels    = []string{"trace", "debug", "info", "warn", "error"}
)

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := ValidateURL(c.Ollama.URL); err != nil {
		errs = append(errs, ValidationError{Field: "ollama.url", Message: err.Error()})
	}
	if c.Ollama.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "ollama.timeout_secs", Message: "must not be negative"})
	}
	if err := ValidateTemperature(c.Chat.Temperature); err != nil {
		errs = append(errs, ValidationError{Field: "chat.temperature", Message: err.Error()})
	}
	if err := ValidateNumCtx(c.Chat.NumCtx); err != nil {
		errs = append(errs, ValidationError{Field: "chat.num_ctx", Message: err.Error()})
	}
	if !oneOf(c.UI.Theme, validThemes) {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: %s", c.UI.Theme, strings.Join(validThemes, ", ")),
		})
	}
	if !oneOf(c.UI.RenderStyle, validRenderStyles) {
		errs = append(errs, ValidationError{
			Field:   "ui.render_style",
			Message: fmt.Sprintf("invalid style '%s', must be one of: %s", c.UI.RenderStyle, strings.Join(validRenderStyles, ", ")),
		})
	}
	if !oneOf(c.LogLevel, validLogLevels) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: %s", c.LogLevel, strings.Join(validLogLevels, ", ")),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got '%s'", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: '%s'", raw)
	}
	return nil
}

// ValidateTemperature checks the sampling temperature range.
func ValidateTemperature(t float64) error {
	if t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("must be between %.1f and %.1f, got %g", MinTemperature, MaxTemperature, t)
	}
	return nil
}

// ValidateNumCtx checks the context window size.
func ValidateNumCtx(n int) error {
	if n <= 0 || n > MaxNumCtx {
		return fmt.Errorf("must be between 1 and %d, got %d", MaxNumCtx, n)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// =============================================================================
// DEFAULTS AND MIGRATION
// =============================================================================

// SetDefaults fills in values that must never be empty.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Chat.NumCtx == 0 {
		c.Chat.NumCtx = d.Chat.NumCtx
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.RenderStyle == "" {
		c.UI.RenderStyle = d.UI.RenderStyle
	}
}

// Migrate normalises values written by older versions or by hand.
func (c *Config) Migrate() {
	c.Ollama.URL = strings.TrimRight(strings.TrimSpace(c.Ollama.URL), "/")
	c.UI.Theme = strings.ToLower(strings.TrimSpace(c.UI.Theme))
	c.UI.RenderStyle = strings.ToLower(strings.TrimSpace(c.UI.RenderStyle))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
// Values that do not parse are ignored.
//
// Supported environment variables:
//   - OLLACHAT_URL: overrides ollama.url
//   - OLLACHAT_MODEL: overrides ollama.model
//   - OLLACHAT_SYSTEM_PROMPT: overrides chat.system_prompt
//   - OLLACHAT_TEMPERATURE: overrides chat.temperature
//   - OLLACHAT_NUM_CTX: overrides chat.num_ctx
//   - OLLACHAT_STREAM: "1"/"true" or "0"/"false"
//   - OLLACHAT_THEME: overrides ui.theme
//   - OLLACHAT_LOG_LEVEL: overrides log_level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OLLACHAT_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("OLLACHAT_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v, ok := os.LookupEnv("OLLACHAT_SYSTEM_PROMPT"); ok {
		c.Chat.SystemPrompt = v
	}
	if v := os.Getenv("OLLACHAT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chat.Temperature = f
		}
	}
	if v := os.Getenv("OLLACHAT_NUM_CTX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.NumCtx = n
		}
	}
	if v := os.Getenv("OLLACHAT_STREAM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Chat.Stream = b
		}
	}
	if v := os.Getenv("OLLACHAT_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("OLLACHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.num_ctx").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type. The result is not validated; call
// Validate before saving.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct tree following the toml tag names.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ToLower(strings.ReplaceAll(name, "-", "_"))
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
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
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
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
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if tag == "" || tag == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the config as TOML, for display.
func (c *Config) String() string {
	data, err := encode(c, formatTOML)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
