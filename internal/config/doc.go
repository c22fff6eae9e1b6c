// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ollachat.
//
// Supports TOML, YAML and JSON configuration files, with defaults, .env
// files, environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - OllamaConfig: Server URL, model and timeout
//   - ChatConfig: System prompt, temperature, context size, streaming
//   - Watcher: Reloads the config file when it changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OLLACHAT_*), including those from .env
//   - ~/.ollachat/config.toml
//   - ~/.ollachat/config.yaml
//   - ~/.ollachat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Ollama.URL})
package config
