// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to Markdown or JSON files.
//
// Usage:
//
//	exp, err := export.ForFormat("markdown", nil)
//	path, err := export.ExportToFile(transcript, exp, ".")
package export
