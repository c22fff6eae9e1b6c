// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Transcript: ordered conversation history with at most one in-flight turn
//   - Message: single message with role, content, images and generation metrics
//   - Image: tagged image attachment, either raw bytes or a stored reference
//   - Statistics: timing and token counts for one generation
//   - InvariantViolation: caller error such as starting two turns at once
//
// # Usage
//
// A streamed turn is pre-appended, amended while deltas arrive and then ended:
//
//	t := model.NewTranscript()
//	t.Append(model.NewUserMessage("Hello!"))
//	t.BeginTurn()
//	t.Amend("Hi")
//	t.Amend("Hi there")
//	t.EndTurn(stats, false)
//
// The request payload never includes the empty placeholder:
//
//	msgs := t.SnapshotForRequest("You are a helpful AI assistant.")
package model
