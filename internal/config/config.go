// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for rigchat.
//
// Configuration is read from ~/.rigchat/config.toml, then overridden by
// environment variables, then validated. Missing files mean defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/relay"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Ollama  OllamaConfig  `toml:"ollama"`
	Storage StorageConfig `toml:"storage"`
	Relay   RelayConfig   `toml:"relay"`
	Client  ClientConfig  `toml:"client"`
}

// ServerConfig configures `rigchat serve`.
type ServerConfig struct {
	// Addr is the listen address. Loopback by default: there is no auth.
	Addr string `toml:"addr" env:"RIGCHAT_ADDR"`

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" env:"RIGCHAT_RATE_LIMIT"`
	RateBurst int     `toml:"rate_burst" env:"RIGCHAT_RATE_BURST"`

	// CORSOrigins enables CORS for the listed origins ("*" for any).
	CORSOrigins []string `toml:"cors_origins" env:"RIGCHAT_CORS_ORIGINS" envSeparator:","`
}

// OllamaConfig locates the inference backend.
type OllamaConfig struct {
	URL     string        `toml:"url" env:"OLLAMA_API_URL"`
	Timeout time.Duration `toml:"timeout" env:"RIGCHAT_OLLAMA_TIMEOUT"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	// Driver is one of sqlite, postgres, bolt, file.
	Driver string `toml:"driver" env:"RIGCHAT_STORAGE_DRIVER"`

	// Path is the sqlite/bolt database file or the file-store directory.
	Path string `toml:"path" env:"RIGCHAT_STORAGE_PATH"`

	// URL is the postgres connection string.
	URL string `toml:"url" env:"DATABASE_URL"`
}

// RelayConfig tunes the stream relay.
type RelayConfig struct {
	// FlushInterval bounds how often partial replies are written; 0 writes
	// after every fragment.
	FlushInterval      time.Duration `toml:"flush_interval" env:"RIGCHAT_FLUSH_INTERVAL"`
	NonStreamTimeout   time.Duration `toml:"non_stream_timeout" env:"RIGCHAT_NON_STREAM_TIMEOUT"`
	DefaultModel       string        `toml:"default_model" env:"RIGCHAT_MODEL"`
	DefaultTemperature float64       `toml:"default_temperature" env:"RIGCHAT_TEMPERATURE"`
}

// ClientConfig holds the preferences of the chat clients. These are the
// settings `rigchat settings set` persists.
type ClientConfig struct {
	ServerURL    string        `toml:"server_url" env:"RIGCHAT_SERVER_URL"`
	Model        string        `toml:"model" env:"RIGCHAT_CLIENT_MODEL"`
	Temperature  float64       `toml:"temperature" env:"RIGCHAT_CLIENT_TEMPERATURE"`
	Stream       bool          `toml:"stream" env:"RIGCHAT_STREAM"`
	PollInterval time.Duration `toml:"poll_interval" env:"RIGCHAT_POLL_INTERVAL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir, err := Dir()
	if err != nil {
		dataDir = ".rigchat"
	}
	return &Config{
		Server: ServerConfig{
			Addr:      server.DefaultAddr,
			RateLimit: 20,
			RateBurst: 40,
		},
		Ollama: OllamaConfig{
			URL:     ollama.DefaultBaseURL,
			Timeout: ollama.DefaultTimeout,
		},
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			Path:   filepath.Join(dataDir, "rigchat.db"),
		},
		Relay: RelayConfig{
			NonStreamTimeout:   relay.DefaultNonStreamTimeout,
			DefaultModel:       model.DefaultModel,
			DefaultTemperature: model.DefaultTemperature,
		},
		Client: ClientConfig{
			ServerURL:    client.DefaultBaseURL,
			Temperature:  model.DefaultTemperature,
			Stream:       true,
			PollInterval: client.DefaultPollInterval,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the rigchat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: The file may hold a database URL with a password.
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
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file (if any), applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load for an explicit file. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// readFile decodes path over the defaults without environment overrides.
func readFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal: permissions may not be fixable on every filesystem.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides fields whose environment variable is set.
//
// Supported variables:
//   - RIGCHAT_ADDR, RIGCHAT_RATE_LIMIT, RIGCHAT_RATE_BURST, RIGCHAT_CORS_ORIGINS
//   - OLLAMA_API_URL, RIGCHAT_OLLAMA_TIMEOUT
//   - RIGCHAT_STORAGE_DRIVER, RIGCHAT_STORAGE_PATH, DATABASE_URL
//   - RIGCHAT_FLUSH_INTERVAL, RIGCHAT_NON_STREAM_TIMEOUT, RIGCHAT_MODEL, RIGCHAT_TEMPERATURE
//   - RIGCHAT_SERVER_URL, RIGCHAT_CLIENT_MODEL, RIGCHAT_CLIENT_TEMPERATURE,
//     RIGCHAT_STREAM, RIGCHAT_POLL_INTERVAL
func (c *Config) ApplyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

const fileHeader = `# rigchat configuration file
# Generated by rigchat - edit with care

`

// Save writes cfg to path atomically.
// SECURITY: Written with 0600 permissions (owner read/write only).
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveSettings sets one key in the file at path and writes it back. The
// file is read without environment overrides so they are never persisted.
func SaveSettings(path, key, value string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Set(key, value); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := Save(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must be >= 0, got %g", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be >= 1 when rate limiting is enabled, got %d", c.Server.RateBurst)
	}

	// Ollama
	if err := validateHTTPURL(c.Ollama.URL); err != nil {
		add("ollama.url", "%v", err)
	}
	if c.Ollama.Timeout <= 0 {
		add("ollama.timeout", "must be positive, got %s", c.Ollama.Timeout)
	}

	// Storage
	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverBolt, storage.DriverFile:
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path", "required for the %s driver", c.Storage.Driver)
		}
	case storage.DriverPostgres:
		if strings.TrimSpace(c.Storage.URL) == "" {
			add("storage.url", "required for the postgres driver (or set DATABASE_URL)")
		}
	default:
		add("storage.driver", "invalid driver '%s', must be one of: sqlite, postgres, bolt, file", c.Storage.Driver)
	}

	// Relay
	if c.Relay.FlushInterval < 0 {
		add("relay.flush_interval", "must be >= 0, got %s", c.Relay.FlushInterval)
	}
	if c.Relay.NonStreamTimeout <= 0 {
		add("relay.non_stream_timeout", "must be positive, got %s", c.Relay.NonStreamTimeout)
	}
	if err := model.ValidateTemperature(c.Relay.DefaultTemperature); err != nil {
		add("relay.default_temperature", "%v", err)
	}

	// Client
	if err := validateHTTPURL(c.Client.ServerURL); err != nil {
		add("client.server_url", "%v", err)
	}
	if err := model.ValidateTemperature(c.Client.Temperature); err != nil {
		add("client.temperature", "%v", err)
	}
	if c.Client.PollInterval <= 0 {
		add("client.poll_interval", "must be positive, got %s", c.Client.PollInterval)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL '%s': scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL '%s': missing host", raw)
	}
	return nil
}

// =============================================================================
// COMPONENT CONFIGS
// =============================================================================

// ServerConfig returns the HTTP server settings.
func (c *Config) ServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = c.Server.Addr
	cfg.RateLimit = rate.Limit(c.Server.RateLimit)
	cfg.RateBurst = c.Server.RateBurst
	if len(c.Server.CORSOrigins) > 0 {
		cors := server.DefaultCORSConfig()
		cors.AllowedOrigins = c.Server.CORSOrigins
		cfg.CORS = cors
	}
	return cfg
}

// OllamaConfig returns the backend client settings.
func (c *Config) OllamaConfig() *ollama.ClientConfig {
	cfg := ollama.DefaultConfig()
	cfg.BaseURL = c.Ollama.URL
	cfg.Timeout = c.Ollama.Timeout
	cfg.DefaultModel = c.Relay.DefaultModel
	return cfg
}

// StorageConfig returns the store settings.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, URL: c.Storage.URL}
}

// RelayConfig returns the relay service settings.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		FlushInterval:      c.Relay.FlushInterval,
		NonStreamTimeout:   c.Relay.NonStreamTimeout,
		DefaultModel:       c.Relay.DefaultModel,
		DefaultTemperature: c.Relay.DefaultTemperature,
	}
}

// ClientConfig returns the API client settings.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:      c.Client.ServerURL,
		PollInterval: c.Client.PollInterval,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key (e.g. "client.model").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// ErrUnknownKey is returned by Get and Set for a key with no field.
var ErrUnknownKey = errors.New("unknown key")

// Set parses value into the field named by its TOML key.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if err := setFieldValue(field, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// lookup walks key's dotted parts through the toml tags.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("'%s' is a section, not a key", key)
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ","); tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue parses a string into field.
func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value: %v", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %v", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %v", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %v", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Keys returns every configuration key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// =============================================================================
// DISPLAY
// =============================================================================

// String renders the configuration as TOML with credentials redacted.
func (c *Config) String() string {
	safe := *c
	if c.Storage.URL != "" {
		if u, err := url.Parse(c.Storage.URL); err == nil {
			safe.Storage.URL = u.Redacted()
		} else {
			safe.Storage.URL = "[REDACTED]"
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
