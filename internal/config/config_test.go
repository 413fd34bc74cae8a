// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.True(t, strings.HasSuffix(cfg.Storage.Path, "rigchat.db"))
	assert.True(t, cfg.Client.Stream)
}

func TestReadFile_Missing(t *testing.T) {
	cfg, err := readFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestReadFile_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "0.0.0.0:9000"
cors_origins = ["http://example.com"]

[storage]
driver = "postgres"
url = "postgres://rig:secret@db/rigchat"

[relay]
flush_interval = "250ms"

[client]
model = "llama3"
stream = false
`)
	cfg, err := readFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, storage.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.FlushInterval)
	assert.Equal(t, "llama3", cfg.Client.Model)
	assert.False(t, cfg.Client.Stream)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Ollama, cfg.Ollama)
	require.NoError(t, cfg.Validate())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestReadFile_UnknownKey(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 80\n")
	_, err := readFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "[ollama]\nurl = \"http://10.0.0.2:11434\"\n")
	t.Setenv("OLLAMA_API_URL", "http://10.0.0.9:11434")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/rigchat")
	t.Setenv("RIGCHAT_STORAGE_DRIVER", "postgres")
	t.Setenv("RIGCHAT_FLUSH_INTERVAL", "1s")
	t.Setenv("RIGCHAT_CORS_ORIGINS", "http://a,http://b")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9:11434", cfg.Ollama.URL)
	assert.Equal(t, storage.Config{Driver: "postgres", Path: Default().Storage.Path, URL: "postgres://u:p@localhost/rigchat"}, cfg.StorageConfig())
	assert.Equal(t, time.Second, cfg.RelayConfig().FlushInterval)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := writeConfig(t, "[storage]\ndriver = \"mongo\"\n")
	_, err := LoadFromPath(path)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "storage.driver", verrs[0].Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, "server.addr"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"zero burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"ollama scheme", func(c *Config) { c.Ollama.URL = "ftp://host" }, "ollama.url"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = storage.DriverPostgres }, "storage.url"},
		{"file without path", func(c *Config) {
			c.Storage.Driver = storage.DriverFile
			c.Storage.Path = ""
		}, "storage.path"},
		{"negative flush", func(c *Config) { c.Relay.FlushInterval = -time.Second }, "relay.flush_interval"},
		{"relay temperature", func(c *Config) { c.Relay.DefaultTemperature = 3 }, "relay.default_temperature"},
		{"client temperature", func(c *Config) { c.Client.Temperature = -0.1 }, "client.temperature"},
		{"client url", func(c *Config) { c.Client.ServerURL = "127.0.0.1:8787" }, "client.server_url"},
		{"poll interval", func(c *Config) { c.Client.PollInterval = 0 }, "client.poll_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			var verrs ValidateErrors
			require.ErrorAs(t, cfg.Validate(), &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("client.model", "mistral"))
	require.NoError(t, cfg.Set("client.temperature", "1.1"))
	require.NoError(t, cfg.Set("client.stream", "false"))
	require.NoError(t, cfg.Set("client.poll_interval", "2s"))
	require.NoError(t, cfg.Set("server.rate_burst", "5"))
	require.NoError(t, cfg.Set("server.cors_origins", "http://a, http://b"))

	assert.Equal(t, "mistral", cfg.Client.Model)
	assert.Equal(t, 1.1, cfg.Client.Temperature)
	assert.False(t, cfg.Client.Stream)
	assert.Equal(t, 2*time.Second, cfg.Client.PollInterval)
	assert.Equal(t, 5, cfg.Server.RateBurst)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)

	v, err := cfg.Get("client.model")
	require.NoError(t, err)
	assert.Equal(t, "mistral", v)

	assert.Error(t, cfg.Set("client.nope", "x"))
	assert.Error(t, cfg.Set("client", "x"))
	assert.Error(t, cfg.Set("client.stream", "maybe"))
	assert.Error(t, cfg.Set("relay.flush_interval", "soon"))
	_, err = cfg.Get("")
	assert.Error(t, err)
}

func TestKeys_AllSettable(t *testing.T) {
	cfg := Default()
	keys := Keys()
	assert.Contains(t, keys, "storage.driver")
	assert.Contains(t, keys, "client.poll_interval")
	for _, key := range keys {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := SaveSettings(path, "client.model", "llama3")
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.Client.Model)

	_, err = SaveSettings(path, "relay.flush_interval", "300ms")
	require.NoError(t, err)

	loaded, err := readFile(path)
	require.NoError(t, err)
	assert.Equal(t, "llama3", loaded.Client.Model)
	assert.Equal(t, 300*time.Millisecond, loaded.Relay.FlushInterval)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# rigchat configuration file"))
}

func TestSaveSettings_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	_, err := SaveSettings(path, "client.temperature", "9")
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "invalid settings must not be written")
}

func TestSaveSettings_DoesNotPersistEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("RIGCHAT_CLIENT_MODEL", "from-env")

	_, err := SaveSettings(path, "client.stream", "false")
	require.NoError(t, err)

	loaded, err := readFile(path)
	require.NoError(t, err)
	assert.Equal(t, "", loaded.Client.Model)
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.Server.CORSOrigins = []string{"*"}

	srv := cfg.ServerConfig()
	assert.Equal(t, cfg.Server.Addr, srv.Addr)
	require.NotNil(t, srv.CORS)
	assert.Equal(t, []string{"*"}, srv.CORS.AllowedOrigins)

	assert.Nil(t, Default().ServerConfig().CORS)
	assert.Equal(t, cfg.Ollama.URL, cfg.OllamaConfig().BaseURL)
	assert.Equal(t, cfg.Client.ServerURL, cfg.ClientConfig().BaseURL)
}

func TestString_RedactsPassword(t *testing.T) {
	cfg := Default()
	cfg.Storage.URL = "postgres://rig:hunter2@db/rigchat"
	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "postgres://rig:xxxxx@db/rigchat")
	assert.Equal(t, "postgres://rig:hunter2@db/rigchat", cfg.Storage.URL)
}
