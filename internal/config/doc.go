// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// # Key Types
//
//   - Config: Main configuration structure, one section per component
//   - ServerConfig, OllamaConfig, StorageConfig, RelayConfig: `rigchat serve`
//   - ClientConfig: preferences of the chat clients
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*, OLLAMA_API_URL, DATABASE_URL)
//   - ~/.rigchat/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Persist a client preference:
//
//	path, _ := config.Path()
//	cfg, err := config.SaveSettings(path, "client.model", "llama3")
package config
