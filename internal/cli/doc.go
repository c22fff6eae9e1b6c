// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ollachat command line.
//
// # Commands
//
//   - chat (default): interactive REPL with slash commands
//   - ask: one question, streamed to stdout or printed as JSON
//   - models: list models installed on the Ollama server
//   - history: list, show, search, export and delete saved conversations
//   - config: show and edit the configuration file
//   - version: print build information
//
// Global flags override the configuration file for one run; see NewApp.
//
// # Exit Codes
//
// Run maps returned errors to exit codes with GetExitCode: 2 for usage
// errors, 3 for configuration errors, 5 when Ollama cannot be reached,
// 7 for unknown models or conversations and 8 for timeouts.
package cli
