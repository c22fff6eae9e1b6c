// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render displays assistant replies in the terminal while they
// stream: markdown via glamour, fenced code via chroma, and <think> blocks
// as a muted reasoning section.
package render
