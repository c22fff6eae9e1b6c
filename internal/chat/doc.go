// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives a conversation: it appends the user's message, runs
// one streaming session against the model server, keeps the transcript in
// step with the deltas and reports the outcome to a render.Renderer.
//
// Outcomes of a turn:
//   - completed: the reply is committed
//   - cancelled: the partial reply is committed and "Streaming stopped by
//     user." is shown
//   - read failure after data arrived: the partial reply is committed and
//     the error is shown
//   - transport failure: the placeholder is removed and the error is shown
package chat
